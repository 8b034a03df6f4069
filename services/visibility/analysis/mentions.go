// Copyright (C) 2026 EchoAI (engineering@echo-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analysis

import (
	"fmt"
	"regexp"
	"sort"
	"unicode"
	"unicode/utf8"

	"github.com/Hamidph/echo-ai-sub000/services/visibility/datatypes"
)

// brandPattern matches one brand name, case-insensitively, on word
// boundaries. \b only anchors between \w and \W, so the boundary is
// applied only where the brand actually starts or ends with a word
// character — "C++" would otherwise never match.
type brandPattern struct {
	brand string
	re    *regexp.Regexp
}

func compileBrandPattern(brand string) (brandPattern, error) {
	if brand == "" {
		return brandPattern{}, fmt.Errorf("empty brand name")
	}

	first, _ := utf8.DecodeRuneInString(brand)
	last, _ := utf8.DecodeLastRuneInString(brand)

	prefix := ""
	if isWordRune(first) {
		prefix = `\b`
	}
	suffix := ""
	if isWordRune(last) {
		suffix = `\b`
	}

	re, err := regexp.Compile(`(?i)` + prefix + regexp.QuoteMeta(brand) + suffix)
	if err != nil {
		return brandPattern{}, fmt.Errorf("compile pattern for %q: %w", brand, err)
	}
	return brandPattern{brand: brand, re: re}, nil
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// offsets returns the byte offset of every match of the brand in text.
func (p brandPattern) offsets(text string) []int {
	matches := p.re.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]int, len(matches))
	for i, m := range matches {
		out[i] = m[0]
	}
	return out
}

// extractMentions collects every tracked-brand occurrence in text,
// ordered by offset.
func extractMentions(patterns []brandPattern, text string) []datatypes.Mention {
	var mentions []datatypes.Mention
	for _, p := range patterns {
		for _, off := range p.offsets(text) {
			mentions = append(mentions, datatypes.Mention{Brand: p.brand, Offset: off})
		}
	}
	sort.Slice(mentions, func(i, j int) bool {
		if mentions[i].Offset != mentions[j].Offset {
			return mentions[i].Offset < mentions[j].Offset
		}
		return mentions[i].Brand < mentions[j].Brand
	})
	return mentions
}

// firstMention returns the earliest mention, or false when the text
// mentions no tracked brand.
func firstMention(mentions []datatypes.Mention) (datatypes.Mention, bool) {
	if len(mentions) == 0 {
		return datatypes.Mention{}, false
	}
	return mentions[0], true
}
