package server

import (
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"

	"github.com/mohammad-safakhou/boardroom/internal/store"
)

var (
	plainTextOnce   sync.Once
	plainTextPolicy *bluemonday.Policy
)

// PlainTextPolicy strips every element and attribute. Profile fields are
// spliced into prompts and echoed by the web client, so markup never survives.
func PlainTextPolicy() *bluemonday.Policy {
	plainTextOnce.Do(func() {
		plainTextPolicy = bluemonday.StrictPolicy()
	})
	return plainTextPolicy
}

// cleanText removes markup from s and undoes the entity escaping the policy
// applies, so "R&D" stays "R&D".
func cleanText(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(PlainTextPolicy().Sanitize(s)))
}

func cleanProfile(p store.ProfileUpdate) store.ProfileUpdate {
	for _, f := range []**string{&p.Name, &p.Role, &p.CompanyName, &p.CompanyStage, &p.Industry, &p.TeamSize, &p.CurrentChallenges, &p.Goals} {
		if *f == nil {
			continue
		}
		v := cleanText(**f)
		*f = &v
	}
	return p
}
