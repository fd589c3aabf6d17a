package lead

import "time"

// Event topics.
const (
	TopicDiscovered = "lead.discovered"
	TopicContacted  = "lead.contacted"
)

// Event is the payload published on lead lifecycle changes.
type Event struct {
	Type        string    `json:"type"`
	LeadID      string    `json:"lead_id"`
	Identity    string    `json:"identity"`
	CompanyName string    `json:"company_name"`
	Country     string    `json:"country,omitempty"`
	Source      Source    `json:"source"`
	Email       string    `json:"email,omitempty"`
	TemplateID  string    `json:"template_id,omitempty"`
	Score       int       `json:"score"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// DiscoveredEvent describes a newly inserted lead.
func DiscoveredEvent(l Lead, at time.Time) Event {
	return newEvent(TopicDiscovered, l, at)
}

// ContactedEvent describes a successful campaign send.
func ContactedEvent(l Lead, templateID string, at time.Time) Event {
	e := newEvent(TopicContacted, l, at)
	e.TemplateID = templateID
	return e
}

func newEvent(topic string, l Lead, at time.Time) Event {
	return Event{
		Type:        topic,
		LeadID:      l.ID,
		Identity:    l.Identity,
		CompanyName: l.CompanyName,
		Country:     l.Country,
		Source:      l.Source,
		Email:       l.Email,
		Score:       l.Score,
		OccurredAt:  at.UTC(),
	}
}
