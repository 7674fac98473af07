package mqtt

import "strings"

// Topics builds the Studio Core topic hierarchy under a configurable
// prefix (config mqtt.topic_prefix, "studio" by default).
//
//	{prefix}/status/{type}/{name}         retained device status
//	{prefix}/event/{type}/{name}/{event}  device events (not retained)
//	{prefix}/tally/combined               retained combined tally vector
//	{prefix}/user/{username}              retained user tally state
//	{prefix}/command/{type}/{name}        inbound commands, name "*" = all
//	{prefix}/system/status                online/offline, also the LWT
type Topics struct {
	Prefix string
}

// NewTopics returns a builder for prefix. An empty prefix uses "studio".
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "studio"
	}
	return Topics{Prefix: prefix}
}

func (t Topics) join(parts ...string) string {
	return t.Prefix + "/" + strings.Join(parts, "/")
}

// Segment makes a device or user name safe for use as one topic level.
// Level separators and wildcards are replaced with underscores.
func Segment(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '+', '#':
			return '_'
		}
		return r
	}, name)
}

// Status returns the retained status topic for a device.
func (t Topics) Status(deviceType, name string) string {
	return t.join("status", deviceType, Segment(name))
}

// Event returns the topic for a device event.
func (t Topics) Event(deviceType, name, event string) string {
	return t.join("event", deviceType, Segment(name), event)
}

// TallyCombined returns the retained combined tally topic.
func (t Topics) TallyCombined() string {
	return t.join("tally", "combined")
}

// User returns the retained topic for a user's tally state.
func (t Topics) User(username string) string {
	return t.join("user", Segment(username))
}

// Command returns the command topic for a device.
func (t Topics) Command(deviceType, name string) string {
	if name == "*" {
		return t.join("command", deviceType, "*")
	}
	return t.join("command", deviceType, Segment(name))
}

// AllCommands matches every command topic.
func (t Topics) AllCommands() string {
	return t.join("command", "+", "+")
}

// SystemStatus returns the topic carrying Studio Core's online state.
func (t Topics) SystemStatus() string {
	return t.join("system", "status")
}

// AllTopics matches everything under the prefix.
func (t Topics) AllTopics() string {
	return t.Prefix + "/#"
}

// ParseCommand splits a command topic into its device type and name
// segment. ok is false for topics outside the command hierarchy.
func (t Topics) ParseCommand(topic string) (deviceType, name string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.Prefix+"/command/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
