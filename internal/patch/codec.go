// Package patch wraps diff-match-patch to compute, serialize and fuzzily
// apply text patches.
package patch

import (
	"fmt"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// cleanupThreshold is the minimum number of diffs before semantic and
// efficiency cleanup passes run.
const cleanupThreshold = 2

// Set is a sequence of hunks transforming one text into another.
type Set []diffmatchpatch.Patch

// Empty reports whether the set carries no hunks.
func (s Set) Empty() bool {
	return len(s) == 0
}

// Codec computes and applies patches. It is safe for concurrent use.
type Codec struct {
	dmp *diffmatchpatch.DiffMatchPatch
}

// NewCodec returns a codec with the library's default match thresholds.
func NewCodec() *Codec {
	return &Codec{dmp: diffmatchpatch.New()}
}

// Diff returns the patch transforming oldText into newText.
func (c *Codec) Diff(oldText, newText string) Set {
	if oldText == newText {
		return nil
	}

	diffs := c.dmp.DiffMain(oldText, newText, true)
	if len(diffs) > cleanupThreshold {
		diffs = c.dmp.DiffCleanupSemantic(diffs)
		diffs = c.dmp.DiffCleanupEfficiency(diffs)
	}

	return Set(c.dmp.PatchMake(oldText, diffs))
}

// Serialize encodes a patch in the transport-safe GNU-diff-like text form.
func (c *Codec) Serialize(set Set) string {
	if set.Empty() {
		return ""
	}
	return c.dmp.PatchToText(set)
}

// Deserialize decodes text produced by Serialize.
func (c *Codec) Deserialize(text string) (Set, error) {
	if text == "" {
		return nil, nil
	}

	patches, err := c.dmp.PatchFromText(text)
	if err != nil {
		return nil, fmt.Errorf("parse patch: %w", err)
	}

	return Set(patches), nil
}

// Apply applies set to target with fuzzy context matching. Hunks that cannot
// be placed are dropped; the returned count reports how many were.
func (c *Codec) Apply(set Set, target string) (string, int) {
	if set.Empty() {
		return target, 0
	}

	patched, applied := c.dmp.PatchApply(set, target)

	failed := 0
	for _, ok := range applied {
		if !ok {
			failed++
		}
	}

	return patched, failed
}

// MakeText diffs and serializes in one step.
func (c *Codec) MakeText(oldText, newText string) string {
	return c.Serialize(c.Diff(oldText, newText))
}

// ApplyText deserializes and applies in one step.
func (c *Codec) ApplyText(text, target string) (string, int, error) {
	set, err := c.Deserialize(text)
	if err != nil {
		return target, 0, err
	}

	patched, failed := c.Apply(set, target)
	return patched, failed, nil
}
