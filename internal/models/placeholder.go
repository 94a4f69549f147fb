package models

import (
	"fmt"
	"regexp"
	"strconv"
)

// ImagePlaceholderRe matches the image reference tokens the extractor asks the model to emit,
// for example "[IMAGE:q12:3]". Loose variants like "[IMAGE]" or "[IMAGE: diagram]" also match.
var ImagePlaceholderRe = regexp.MustCompile(`\[IMAGE[^\]]*\]`)

var placeholderPartsRe = regexp.MustCompile(`^\[IMAGE:\s*q?(\d+)\s*(?::\s*(\d+))?\s*\]$`)

// ImagePlaceholder formats the token for question n, image k.
func ImagePlaceholder(questionNumber, index int) string {
	return fmt.Sprintf("[IMAGE:q%d:%d]", questionNumber, index)
}

// ParseImagePlaceholder extracts the question number and image index from a well-formed token.
// Missing parts are returned as zero.
func ParseImagePlaceholder(token string) (questionNumber, index int, ok bool) {
	m := placeholderPartsRe.FindStringSubmatch(token)
	if m == nil {
		return 0, 0, false
	}
	questionNumber, _ = strconv.Atoi(m[1])
	if m[2] != "" {
		index, _ = strconv.Atoi(m[2])
	}
	return questionNumber, index, true
}

// HasImagePlaceholder reports whether s still contains an unresolved image token.
func HasImagePlaceholder(s string) bool {
	return ImagePlaceholderRe.MatchString(s)
}
