package tally

import (
	"slices"
	"sort"
	"sync"
)

// User is a camera operator whose tally light follows the combined vector.
type User struct {
	Username    string `json:"username"`
	Name        string `json:"name"`
	CamNumber   int    `json:"camNumber"`
	ChannelName string `json:"channelName"`
	Talking     bool   `json:"talking"`
	Status      int    `json:"status"`
}

// Roster holds the configured users keyed by username.
//
// All methods are safe for concurrent use.
type Roster struct {
	mu    sync.RWMutex
	users map[string]*User
	last  []int
}

// NewRoster creates a roster. Later entries replace earlier ones with the
// same username.
func NewRoster(users []User) *Roster {
	r := &Roster{users: make(map[string]*User, len(users))}
	for _, u := range users {
		u.Status = Off
		r.users[u.Username] = &u
	}
	return r
}

// Apply sets each user's status from combined, indexed by camera number, and
// returns the users whose status changed, sorted by username.
func (r *Roster) Apply(combined []int) []User {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.last = slices.Clone(combined)

	var changed []User
	for _, u := range r.users {
		status := At(combined, u.CamNumber)
		if status == u.Status {
			continue
		}
		u.Status = status
		changed = append(changed, *u)
	}
	sortUsers(changed)
	return changed
}

// Combined returns the vector most recently passed to Apply.
func (r *Roster) Combined() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return []int{}
	}
	return slices.Clone(r.last)
}

// SetTalking records an intercom talk state. It returns the updated user and
// whether anything changed.
func (r *Roster) SetTalking(username string, talking bool) (User, bool) {
	return r.update(username, func(u *User) bool {
		if u.Talking == talking {
			return false
		}
		u.Talking = talking
		return true
	})
}

// SetChannel records the intercom channel a user is on.
func (r *Roster) SetChannel(username, channel string) (User, bool) {
	return r.update(username, func(u *User) bool {
		if u.ChannelName == channel {
			return false
		}
		u.ChannelName = channel
		return true
	})
}

// SetCamNumber moves a user to another camera and recomputes their status
// from the last combined vector.
func (r *Roster) SetCamNumber(username string, cam int) (User, bool) {
	if cam < 0 {
		return User{}, false
	}
	return r.update(username, func(u *User) bool {
		if u.CamNumber == cam {
			return false
		}
		u.CamNumber = cam
		u.Status = At(r.last, cam)
		return true
	})
}

func (r *Roster) update(username string, fn func(*User) bool) (User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[username]
	if !ok {
		return User{}, false
	}
	if !fn(u) {
		return *u, false
	}
	return *u, true
}

// User returns a copy of one user.
func (r *Roster) User(username string) (User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[username]
	if !ok {
		return User{}, false
	}
	return *u, true
}

// Users returns copies of all users sorted by username.
func (r *Roster) Users() []User {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, *u)
	}
	sortUsers(out)
	return out
}

func sortUsers(users []User) {
	sort.Slice(users, func(i, j int) bool {
		return users[i].Username < users[j].Username
	})
}
