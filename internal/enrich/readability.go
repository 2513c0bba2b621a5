package enrich

import (
	"strings"
	"unicode"

	"github.com/samber/lo"
)

// readability computes a grade-level score (0-15) and a difficulty score
// (4.9-11) for plain text. Both derive from word, sentence, and syllable
// counts, so the result is deterministic for a given input.
func readability(text string) (gradeLevel, difficulty float64) {
	words := strings.Fields(text)
	if len(words) == 0 {
		return 0, 4.9
	}

	sentences := 0
	for _, r := range text {
		if r == '.' || r == '!' || r == '?' {
			sentences++
		}
	}
	if sentences == 0 {
		sentences = 1
	}

	syllables := 0
	for _, w := range words {
		syllables += countSyllables(w)
	}

	wordsPerSentence := float64(len(words)) / float64(sentences)
	syllablesPerWord := float64(syllables) / float64(len(words))

	grade := 0.39*wordsPerSentence + 11.8*syllablesPerWord - 15.59
	gradeLevel = lo.Clamp(grade, 0, 15)

	// Flesch reading ease, inverted onto the difficulty scale: ease 100
	// maps to 4.9, ease 0 to 11.
	ease := 206.835 - 1.015*wordsPerSentence - 84.6*syllablesPerWord
	difficulty = lo.Clamp(11-ease*(11-4.9)/100, 4.9, 11)
	return gradeLevel, difficulty
}

// countSyllables approximates syllables as runs of vowels, treating a
// trailing silent e as non-syllabic. Every word counts at least one.
func countSyllables(word string) int {
	word = strings.ToLower(strings.TrimFunc(word, func(r rune) bool {
		return !unicode.IsLetter(r)
	}))
	if word == "" {
		return 1
	}
	if strings.HasSuffix(word, "e") && len(word) > 2 {
		word = word[:len(word)-1]
	}

	count := 0
	prevVowel := false
	for _, r := range word {
		vowel := strings.ContainsRune("aeiouy", r)
		if vowel && !prevVowel {
			count++
		}
		prevVowel = vowel
	}
	if count == 0 {
		count = 1
	}
	return count
}
