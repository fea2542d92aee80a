package domain

import "time"

// PanelKey is the well-known key of the single live panel record.
const PanelKey = "ticket-panel"

// PanelCategory is one selectable ticket category.
type PanelCategory struct {
	Key              string `json:"key" yaml:"key"`
	Label            string `json:"label" yaml:"label"`
	Emoji            string `json:"emoji,omitempty" yaml:"emoji"`
	Description      string `json:"description,omitempty" yaml:"description"`
	TargetCategoryID string `json:"target_category_id" yaml:"target_category_id"`
}

// Panel is the persistent category-selection message.
type Panel struct {
	Key        string
	ChannelID  string
	MessageID  string
	Title      string
	Categories []PanelCategory
	UpdatedAt  time.Time
}

// Category looks up a category by key.
func (p *Panel) Category(key string) (PanelCategory, bool) {
	for _, category := range p.Categories {
		if category.Key == key {
			return category, true
		}
	}
	return PanelCategory{}, false
}
