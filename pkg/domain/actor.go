package domain

// SystemLabel is the display label recorded for changes without a human actor.
const SystemLabel = "system"

// Actor identifies who performs a unit of work. The zero value is the system
// actor used by background jobs such as the age progression backfill.
type Actor struct {
	ID   string
	Name string
}

// SystemActor returns the actor attributed to unattended changes.
func SystemActor() Actor { return Actor{} }

// ActorFromUser builds an actor for a persisted user.
func ActorFromUser(u User) Actor {
	return Actor{ID: u.ID, Name: u.FullName()}
}

// IsSystem reports whether the actor is the system actor.
func (a Actor) IsSystem() bool { return a.ID == "" }

// Ref returns the actor id for reference fields, or nil for the system actor.
func (a Actor) Ref() *string {
	if a.IsSystem() {
		return nil
	}
	id := a.ID
	return &id
}

// Label returns the display label of the actor.
func (a Actor) Label() string {
	switch {
	case a.IsSystem():
		return SystemLabel
	case a.Name != "":
		return a.Name
	default:
		return a.ID
	}
}
