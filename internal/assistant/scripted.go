package assistant

import (
	"context"
	"strings"
)

type rule struct {
	keywords []string
	reply    string
}

// Scripted answers from a fixed keyword table. It never fails and backs the
// LLM when the API is unreachable.
type Scripted struct {
	rules    []rule
	fallback string
}

func NewScripted() *Scripted {
	return &Scripted{
		rules: []rule{
			{
				keywords: []string{"hello", "hi ", "hey", "howdy"},
				reply:    "Hey rider! Ask me about routes, maintenance, gear or upcoming group rides.",
			},
			{
				keywords: []string{"route", "ride out", "road trip", "twisties", "scenic"},
				reply:    "Check the Routes page for rider-rated loops. Plan fuel stops every 150 km and share your route with someone before you leave.",
			},
			{
				keywords: []string{"oil", "chain", "tire", "tyre", "brake", "service", "maintenance"},
				reply:    "Before every ride: tire pressure, chain slack and lube, brake feel, lights. Log services in your garage so you never miss an oil change.",
			},
			{
				keywords: []string{"helmet", "jacket", "gloves", "boots", "gear"},
				reply:    "Dress for the slide, not the ride. Look for ECE 22.06 helmets and CE level 2 armor, and read the community gear reviews.",
			},
			{
				keywords: []string{"event", "meetup", "group ride", "rally"},
				reply:    "Upcoming meetups are on the Events page. RSVP so the ride leader knows how many bikes to expect.",
			},
			{
				keywords: []string{"rain", "wet", "cold", "winter"},
				reply:    "In the wet: smooth inputs, more following distance, avoid painted lines and manhole covers.",
			},
		},
		fallback: "Good question! I'm best with routes, maintenance, gear and events. Could you tell me a bit more?",
	}
}

func (s *Scripted) Reply(_ context.Context, utterance string, _ []Turn) (string, error) {
	text := " " + strings.ToLower(strings.TrimSpace(utterance)) + " "
	for _, r := range s.rules {
		for _, k := range r.keywords {
			if strings.Contains(text, k) {
				return r.reply, nil
			}
		}
	}
	return s.fallback, nil
}
