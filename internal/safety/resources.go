package safety

import (
	"sort"
	"strings"
)

// DefaultRegion is the fallback key for the crisis-resource directory.
const DefaultRegion = "DEFAULT"

// Resource is one crisis-support contact entry.
type Resource struct {
	Name      string `json:"name"`
	Action    string `json:"action"`
	Phone     string `json:"phone,omitempty"`
	Text      string `json:"text,omitempty"`
	URL       string `json:"url,omitempty"`
	Available string `json:"available"`
	Primary   bool   `json:"is_primary,omitempty"`
}

// Static directory. Each region lists its primary hotline first;
// CrisisResources re-asserts that ordering defensively on lookup.
var resourceDirectory = map[string][]Resource{
	"US": {
		{Name: "988 Suicide & Crisis Lifeline", Action: "Call or text 988", Phone: "988", Text: "988", URL: "https://988lifeline.org", Available: "24/7", Primary: true},
		{Name: "Crisis Text Line", Action: "Text HOME to 741741", Text: "741741", URL: "https://www.crisistextline.org", Available: "24/7"},
		{Name: "SAMHSA National Helpline", Action: "Call 1-800-662-4357", Phone: "1-800-662-4357", URL: "https://www.samhsa.gov/find-help/national-helpline", Available: "24/7"},
	},
	"UK": {
		{Name: "Samaritans", Action: "Call 116 123", Phone: "116 123", URL: "https://www.samaritans.org", Available: "24/7", Primary: true},
		{Name: "Shout", Action: "Text SHOUT to 85258", Text: "85258", URL: "https://giveusashout.org", Available: "24/7"},
	},
	"CA": {
		{Name: "Talk Suicide Canada", Action: "Call 1-833-456-4566", Phone: "1-833-456-4566", URL: "https://talksuicide.ca", Available: "24/7", Primary: true},
		{Name: "Crisis Text Line Canada", Action: "Text TALK to 686868", Text: "686868", Available: "24/7"},
	},
	"AU": {
		{Name: "Lifeline Australia", Action: "Call 13 11 14", Phone: "13 11 14", URL: "https://www.lifeline.org.au", Available: "24/7", Primary: true},
		{Name: "Beyond Blue", Action: "Call 1300 22 4636", Phone: "1300 22 4636", URL: "https://www.beyondblue.org.au", Available: "24/7"},
	},
	DefaultRegion: {
		{Name: "International Association for Suicide Prevention", Action: "Find a crisis centre near you", URL: "https://www.iasp.info/resources/Crisis_Centres", Available: "varies", Primary: true},
		{Name: "Befrienders Worldwide", Action: "Find a helpline in your country", URL: "https://befrienders.org", Available: "varies"},
	},
}

// CrisisResources returns the ordered resource list for a region
// code, falling back to the international DEFAULT list when the
// region is unknown or empty. The primary entry is always first.
func CrisisResources(region string) []Resource {
	key := strings.ToUpper(strings.TrimSpace(region))
	entries, ok := resourceDirectory[key]
	if !ok {
		entries = resourceDirectory[DefaultRegion]
	}

	out := make([]Resource, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Primary && !out[j].Primary
	})
	return out
}

// Regions lists the region codes the directory covers, sorted.
func Regions() []string {
	out := make([]string, 0, len(resourceDirectory))
	for region := range resourceDirectory {
		out = append(out, region)
	}
	sort.Strings(out)
	return out
}
