package model

// Preference categories and names read by the entry procedures.
const (
	PreferenceTeamsOrder      = "teams_order"
	PreferenceDisplaySettings = "display_settings"
	PreferenceNameFormat      = "name_format"
)

// Preference is a category/name/value triple keyed per user.
type Preference struct {
	UserID   string `json:"user_id"`
	Category string `json:"category"`
	Name     string `json:"name"`
	Value    string `json:"value"`
}

// Key identifies a preference within a user's set.
func (p Preference) Key() string {
	return p.Category + "/" + p.Name
}

// PreferenceValue returns the value for category/name, or def when absent.
func PreferenceValue(prefs []Preference, category, name, def string) string {
	for _, p := range prefs {
		if p.Category == category && p.Name == name {
			return p.Value
		}
	}
	return def
}
