package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
)

// TruncationMarker is appended to chunk text cut off by Truncate.
const TruncationMarker = "\n...[truncated]..."

// HashContent returns the hex-encoded SHA-256 of content.
func HashContent(content string) string {
	hash := sha256.Sum256([]byte(content))
	return hex.EncodeToString(hash[:])
}

// CosineSim computes cosine similarity between two vectors. Mismatched or
// zero-norm vectors score 0.
func CosineSim(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Truncate cuts text to at most maxLen characters, appending a marker when
// anything was removed. maxLen <= 0 yields an empty string.
func Truncate(text string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen] + TruncationMarker
}
