package util

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

// BuildBranch is the branch name used when a build is exported to git.
func BuildBranch(buildNumber int) string {
	return fmt.Sprintf("build-%d", buildNumber)
}
