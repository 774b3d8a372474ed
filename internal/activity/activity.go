// Package activity decodes the serialized question groups and screen
// layouts of an Activity and turns them into renderable screens.
package activity

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/orion/tasksync/internal/schema"
	"github.com/tidwall/gjson"
)

// LayoutMobile is the only layout type screens are built from.
const LayoutMobile = "MOBILE"

// Choice is one option of a select question.
type Choice struct {
	ID    string `json:"id"`
	Order int    `json:"order,omitempty"`
	Text  string `json:"text,omitempty"`
	Value string `json:"value,omitempty"`
}

// Question is one question inside an activity group.
type Question struct {
	ID           string   `json:"id"`
	Type         string   `json:"type,omitempty"`
	Text         string   `json:"text,omitempty"`
	FriendlyName string   `json:"friendlyName,omitempty"`
	Required     bool     `json:"required,omitempty"`
	Choices      []Choice `json:"choices,omitempty"`
}

// Group is a named set of questions.
type Group struct {
	ID        string     `json:"id,omitempty"`
	Questions []Question `json:"questions,omitempty"`
}

// DisplayProperty is a key and a possibly JSON-encoded value.
type DisplayProperty struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Element places a question on a screen.
type Element struct {
	ID                string            `json:"id"`
	Order             int               `json:"order,omitempty"`
	DisplayProperties []DisplayProperty `json:"displayProperties,omitempty"`
	Question          *Question         `json:"question,omitempty"`
}

// Screen is one page of a layout.
type Screen struct {
	ID                string            `json:"id,omitempty"`
	Name              string            `json:"name,omitempty"`
	Text              string            `json:"text,omitempty"`
	Order             int               `json:"order,omitempty"`
	Elements          []Element         `json:"elements,omitempty"`
	DisplayProperties []DisplayProperty `json:"displayProperties,omitempty"`
}

// Layout is the screen list for one platform.
type Layout struct {
	Type    string   `json:"type"`
	Screens []Screen `json:"screens,omitempty"`
}

// Config is the decoded form of an activity.
type Config struct {
	Groups  []Group
	Layouts []Layout
	// Screens overrides the layouts when set
	Screens []Screen
}

// Decode reads the activityGroups and layouts of a.
func Decode(a *schema.Activity) (*Config, error) {
	groups, err := DecodeGroups(a.ActivityGroups)
	if err != nil {
		return nil, fmt.Errorf("failed to decode activity groups of %s: %w", a.PK, err)
	}
	layouts, err := DecodeLayouts(a.Layouts)
	if err != nil {
		return nil, fmt.Errorf("failed to decode layouts of %s: %w", a.PK, err)
	}
	return &Config{Groups: groups, Layouts: layouts}, nil
}

// Encode writes groups and layouts back into a as JSON strings.
func Encode(a *schema.Activity, cfg *Config) error {
	groups, err := json.Marshal(cfg.Groups)
	if err != nil {
		return fmt.Errorf("failed to encode activity groups: %w", err)
	}
	layouts, err := json.Marshal(cfg.Layouts)
	if err != nil {
		return fmt.Errorf("failed to encode layouts: %w", err)
	}
	a.ActivityGroups = string(groups)
	a.Layouts = string(layouts)
	return nil
}

// DecodeGroups accepts a JSON list of groups, a single group object, or
// either of those encoded again as a JSON string. Empty and null decode
// to no groups.
func DecodeGroups(raw string) ([]Group, error) {
	var groups []Group
	if err := decodeList(raw, &groups, func(obj string) error {
		var g Group
		if err := json.Unmarshal([]byte(obj), &g); err != nil {
			return err
		}
		groups = []Group{g}
		return nil
	}); err != nil {
		return nil, err
	}
	return groups, nil
}

// DecodeLayouts accepts the same shapes as DecodeGroups.
func DecodeLayouts(raw string) ([]Layout, error) {
	var layouts []Layout
	if err := decodeList(raw, &layouts, func(obj string) error {
		var l Layout
		if err := json.Unmarshal([]byte(obj), &l); err != nil {
			return err
		}
		layouts = []Layout{l}
		return nil
	}); err != nil {
		return nil, err
	}
	return layouts, nil
}

func decodeList(raw string, list any, single func(obj string) error) error {
	for depth := 0; depth < 3; depth++ {
		if raw == "" {
			return nil
		}
		if !gjson.Valid(raw) {
			return fmt.Errorf("invalid JSON")
		}
		v := gjson.Parse(raw)
		switch {
		case v.Type == gjson.Null:
			return nil
		case v.Type == gjson.String:
			raw = v.Str
			continue
		case v.IsArray():
			return json.Unmarshal([]byte(v.Raw), list)
		case v.IsObject():
			return single(v.Raw)
		default:
			return fmt.Errorf("unexpected JSON %s", v.Type)
		}
	}
	return fmt.Errorf("too many levels of string encoding")
}

// Questions lists every question of every group in order.
func (c *Config) Questions() []Question {
	var all []Question
	for _, g := range c.Groups {
		all = append(all, g.Questions...)
	}
	return all
}

// MobileScreens returns the screens of the first MOBILE layout.
func (c *Config) MobileScreens() []Screen {
	for _, l := range c.Layouts {
		if l.Type == LayoutMobile && len(l.Screens) > 0 {
			return l.Screens
		}
	}
	return nil
}

// ParsedElement is a question ready to render.
type ParsedElement struct {
	ID                string            `json:"id"`
	Order             int               `json:"order"`
	Question          Question          `json:"question"`
	DisplayProperties map[string]string `json:"displayProperties"`
	Answer            any               `json:"answer,omitempty"`
}

// ParsedScreen is a page of rendered questions.
type ParsedScreen struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	Order             int               `json:"order"`
	Elements          []ParsedElement   `json:"elements"`
	DisplayProperties map[string]string `json:"displayProperties"`
}

// Parsed is the result of Parse.
type Parsed struct {
	Screens   []ParsedScreen `json:"screens"`
	Questions []Question     `json:"questions"`
}

// Parse builds the screens of cfg. answers maps question ids to prior
// answers and may be nil.
//
// Screens come from cfg.Screens if set, else from the MOBILE layout.
// Elements are sorted by order and matched to questions by id; screens
// with no matched element are dropped. With questions but no screens, a
// single screen holds every question.
func Parse(cfg *Config, answers map[string]any) *Parsed {
	questions := cfg.Questions()
	byID := make(map[string]Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}

	source := cfg.Screens
	if len(source) == 0 {
		source = cfg.MobileScreens()
	}

	var screens []ParsedScreen
	if len(source) > 0 {
		screens = matchScreens(source, byID, answers)
	} else if len(questions) > 0 {
		screens = []ParsedScreen{defaultScreen(questions, answers)}
	}

	sort.SliceStable(screens, func(i, j int) bool { return screens[i].Order < screens[j].Order })
	return &Parsed{Screens: screens, Questions: questions}
}

func matchScreens(source []Screen, byID map[string]Question, answers map[string]any) []ParsedScreen {
	var screens []ParsedScreen
	for _, screen := range source {
		elements := append([]Element(nil), screen.Elements...)
		sort.SliceStable(elements, func(i, j int) bool { return elements[i].Order < elements[j].Order })

		var parsed []ParsedElement
		for _, el := range elements {
			q, ok := byID[el.ID]
			if !ok {
				if el.Question == nil {
					continue
				}
				q = *el.Question
			}
			parsed = append(parsed, ParsedElement{
				ID:                el.ID,
				Order:             el.Order,
				Question:          q,
				DisplayProperties: displayProperties(el.DisplayProperties),
				Answer:            answers[q.ID],
			})
		}
		if len(parsed) == 0 {
			continue
		}

		n := len(screens)
		ps := ParsedScreen{
			ID:                screen.ID,
			Name:              screen.Name,
			Order:             screen.Order,
			Elements:          parsed,
			DisplayProperties: displayProperties(screen.DisplayProperties),
		}
		if ps.ID == "" {
			ps.ID = fmt.Sprintf("screen-%d", n)
		}
		if ps.Order == 0 {
			ps.Order = n
		}
		if ps.Name == "" {
			ps.Name = screen.Text
		}
		if ps.Name == "" {
			page := screen.Order
			if page == 0 {
				page = n + 1
			}
			ps.Name = fmt.Sprintf("Page %d", page)
		}
		screens = append(screens, ps)
	}
	return screens
}

func defaultScreen(questions []Question, answers map[string]any) ParsedScreen {
	elements := make([]ParsedElement, len(questions))
	for i, q := range questions {
		elements[i] = ParsedElement{
			ID:                q.ID,
			Order:             i,
			Question:          q,
			DisplayProperties: map[string]string{},
			Answer:            answers[q.ID],
		}
	}
	return ParsedScreen{
		ID:                "default-screen",
		Name:              "Questions",
		Elements:          elements,
		DisplayProperties: map[string]string{},
	}
}

// displayProperties unwraps values that are JSON strings, so "\"100%\""
// becomes "100%". Other values are kept as given.
func displayProperties(props []DisplayProperty) map[string]string {
	out := make(map[string]string, len(props))
	for _, p := range props {
		out[p.Key] = p.Value
		if gjson.Valid(p.Value) {
			if v := gjson.Parse(p.Value); v.Type == gjson.String {
				out[p.Key] = v.Str
			}
		}
	}
	return out
}
