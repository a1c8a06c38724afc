package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// PhaseTiming records when a phase started and ended and which reminders were sent.
type PhaseTiming struct {
	StartDate                *time.Time `bson:"startDate,omitempty"`
	EndDate                  *time.Time `bson:"endDate,omitempty"`
	Extended                 bool       `bson:"extended,omitempty"`
	DeadlineNotificationSent bool       `bson:"deadlineNotificationSent,omitempty"`
	// BlockedReason is the last reason a timed-out transition was refused;
	// the group is notified again only when it changes.
	BlockedReason string `bson:"blockedReason,omitempty"`
}

// Cycle is one suggestion, voting, reading and discussion run of a group.
type Cycle struct {
	ID             primitive.ObjectID    `bson:"_id,omitempty"`
	GroupID        int64                 `bson:"groupId"`
	Name           string                `bson:"name"`
	CurrentPhase   Phase                 `bson:"currentPhase"`
	Status         Status                `bson:"status"`
	PhaseDurations PhaseDurations        `bson:"phaseDurations"`
	PhaseTimings   map[Phase]PhaseTiming `bson:"phaseTimings"`
	SelectedBookID *primitive.ObjectID   `bson:"selectedBookId,omitempty"`
	CreatedBy      int64                 `bson:"createdBy"`
	CreatedAt      time.Time             `bson:"createdAt"`
	UpdatedAt      time.Time             `bson:"updatedAt"`
}

// Timing returns the recorded timing of p, or the zero value.
func (c Cycle) Timing(p Phase) PhaseTiming {
	if c.PhaseTimings == nil {
		return PhaseTiming{}
	}
	return c.PhaseTimings[p]
}

// Clone returns a deep copy so snapshots never share timing maps or pointers.
func (c Cycle) Clone() Cycle {
	out := c
	if c.PhaseTimings != nil {
		out.PhaseTimings = make(map[Phase]PhaseTiming, len(c.PhaseTimings))
		for p, t := range c.PhaseTimings {
			out.PhaseTimings[p] = t.clone()
		}
	}
	if c.SelectedBookID != nil {
		id := *c.SelectedBookID
		out.SelectedBookID = &id
	}
	return out
}

func (t PhaseTiming) clone() PhaseTiming {
	out := t
	if t.StartDate != nil {
		v := *t.StartDate
		out.StartDate = &v
	}
	if t.EndDate != nil {
		v := *t.EndDate
		out.EndDate = &v
	}
	return out
}
