package vss

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func loadTestTree(t *testing.T) *SignalTree {
	t.Helper()
	document, err := os.ReadFile("../testdata/vss.json")
	assert.Equal(t, err, nil)
	tree := NewSignalTree()
	assert.Equal(t, tree.Init(document), nil)
	return tree
}

func fullAccessChannel() *Channel {
	channel := NewChannel(1 * ClientMask)
	channel.installPermissions(map[string]permission{
		"Vehicle.*": {read: true, write: true},
	}, time.Now().Add(24*time.Hour), true)
	return channel
}

func TestSetGetIntSensor(t *testing.T) {
	tree := loadTestTree(t)
	channel := fullAccessChannel()
	p := MustParsePath("Vehicle.Acceleration.Vertical")

	raw, _ := json.Marshal(10)
	pairs, err := tree.SetSignal(channel, p, raw)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(pairs), 1)
	assert.Equal(t, pairs[0].Value.I, int64(10))

	view, err := tree.GetSignal(p)
	assert.Equal(t, err, nil)
	assert.Equal(t, view.HasValue, true)
	assert.Equal(t, view.Value.I, int64(10))
	assert.Equal(t, view.Path, "Vehicle.Acceleration.Vertical")
	assert.Equal(t, view.Timestamp.IsZero(), false)
}

func TestMetadataOfBranch(t *testing.T) {
	tree := loadTestTree(t)
	p := MustParsePath("Vehicle.Acceleration")

	metadata, err := tree.GetMetadata(p)
	assert.Equal(t, err, nil)
	m, ok := metadata.(map[string]any)
	assert.Equal(t, ok, true)
	children, ok := m["children"].(map[string]any)
	assert.Equal(t, ok, true)
	for _, name := range []string{"Lateral", "Longitudinal", "Vertical"} {
		child, ok := children[name].(map[string]any)
		assert.Equal(t, ok, true)
		assert.Equal(t, child["datatype"], "int32")
		assert.Equal(t, child["type"], "sensor")
		assert.Equal(t, child["unit"], "m/s2")
		assert.NotEqual(t, child["uuid"], "")
		_, hasValue := child["value"]
		assert.Equal(t, hasValue, false)
	}
}

func TestMetadataOfLeafIncludesBounds(t *testing.T) {
	tree := loadTestTree(t)
	p := MustParsePath("Vehicle.Acceleration.Vertical")

	metadata, err := tree.GetMetadata(p)
	assert.Equal(t, err, nil)
	m, ok := metadata.(map[string]any)
	assert.Equal(t, ok, true)

	min, ok := m["min"].(Value)
	assert.Equal(t, ok, true)
	assert.Equal(t, min.F, float64(-100))

	max, ok := m["max"].(Value)
	assert.Equal(t, ok, true)
	assert.Equal(t, max.F, float64(100))
}

func TestPermissionDeniedSet(t *testing.T) {
	tree := loadTestTree(t)
	channel := NewChannel(2 * ClientMask)
	p := MustParsePath("Vehicle.Acceleration.Vertical")

	raw, _ := json.Marshal(5)
	_, err := tree.SetSignal(channel, p, raw)
	assert.NotEqual(t, err, nil)
	assert.Equal(t, KindOf(err), KindNoPermission)

	view, err := tree.GetSignal(p)
	assert.Equal(t, err, nil)
	assert.Equal(t, view.HasValue, false)
}

func TestOutOfBoundsInteger(t *testing.T) {
	tree := loadTestTree(t)
	channel := fullAccessChannel()
	p := MustParsePath("Vehicle.Acceleration.Vertical")

	raw, _ := json.Marshal(int64(5000000000))
	_, err := tree.SetSignal(channel, p, raw)
	assert.NotEqual(t, err, nil)
	assert.Equal(t, KindOf(err), KindOutOfBounds)
}

func TestWildcardGet(t *testing.T) {
	tree := loadTestTree(t)
	p := MustParsePath("Vehicle.Acceleration.*")

	leaves := tree.GetLeafPaths(p)
	assert.Equal(t, len(leaves), 3)

	view, err := tree.GetSignal(p)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(view.Children), 3)
	for _, v := range view.Children {
		assert.Equal(t, v, noValueSentinel)
	}
}

func TestGetLeafPathsOnlyReturnsLeaves(t *testing.T) {
	tree := loadTestTree(t)
	p := MustParsePath("Vehicle")

	leaves := tree.GetLeafPaths(p)
	assert.NotEqual(t, len(leaves), 0)
	for _, leaf := range leaves {
		resolved := tree.GetLeafPaths(leaf)
		assert.Equal(t, len(resolved), 1)
		assert.Equal(t, resolved[0].Equal(leaf), true)
	}
}

func TestSchemaErrorOnMissingDatatype(t *testing.T) {
	document := []byte(`{"Vehicle":{"type":"sensor","uuid":"x"}}`)
	tree := NewSignalTree()
	err := tree.Init(document)
	assert.NotEqual(t, err, nil)
	assert.Equal(t, KindOf(err), KindSchemaError)
}

func TestSchemaErrorOnDuplicateUUID(t *testing.T) {
	document := []byte(`{
		"A": {"type":"sensor","uuid":"dup","datatype":"int32"},
		"B": {"type":"sensor","uuid":"dup","datatype":"int32"}
	}`)
	tree := NewSignalTree()
	err := tree.Init(document)
	assert.NotEqual(t, err, nil)
	assert.Equal(t, KindOf(err), KindSchemaError)
}

func TestSetOnBranchIsNotALeaf(t *testing.T) {
	tree := loadTestTree(t)
	channel := fullAccessChannel()
	p := MustParsePath("Vehicle.Acceleration")

	raw, _ := json.Marshal(1)
	_, err := tree.SetSignal(channel, p, raw)
	assert.NotEqual(t, err, nil)
	assert.Equal(t, KindOf(err), KindNotALeaf)
}

func TestWildcardSetZipsByName(t *testing.T) {
	tree := loadTestTree(t)
	channel := fullAccessChannel()
	p := MustParsePath("Vehicle.Acceleration.*")

	raw := []byte(`[{"Vertical": 3}, {"Lateral": -2}]`)
	pairs, err := tree.SetSignal(channel, p, raw)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(pairs), 2)

	view, err := tree.GetSignal(MustParsePath("Vehicle.Acceleration.Vertical"))
	assert.Equal(t, err, nil)
	assert.Equal(t, view.HasValue, true)
	assert.Equal(t, view.Value.I, int64(3))
}

func TestWildcardSetDeniedWithoutWritePermission(t *testing.T) {
	tree := loadTestTree(t)
	channel := NewChannel(4 * ClientMask)
	channel.installPermissions(map[string]permission{
		"Vehicle.Acceleration.*": {read: true},
	}, time.Now().Add(time.Hour), false)
	p := MustParsePath("Vehicle.Acceleration.*")

	raw := []byte(`[{"Vertical": 3}, {"Lateral": -2}]`)
	_, err := tree.SetSignal(channel, p, raw)
	assert.NotEqual(t, err, nil)
	assert.Equal(t, KindOf(err), KindNoPermission)

	view, err := tree.GetSignal(MustParsePath("Vehicle.Acceleration.Vertical"))
	assert.Equal(t, err, nil)
	assert.Equal(t, view.HasValue, false)
}

func TestWildcardSetRejectsUnmatchedName(t *testing.T) {
	tree := loadTestTree(t)
	channel := fullAccessChannel()
	p := MustParsePath("Vehicle.Acceleration.*")

	raw := []byte(`[{"NotAChild": 3}]`)
	_, err := tree.SetSignal(channel, p, raw)
	assert.NotEqual(t, err, nil)
	assert.Equal(t, KindOf(err), KindPathNotValid)
}

func TestDumpMetadataRoundTrip(t *testing.T) {
	tree := loadTestTree(t)
	dumped, err := tree.DumpMetadata()
	assert.Equal(t, err, nil)

	reloaded := NewSignalTree()
	assert.Equal(t, reloaded.Init(dumped), nil)

	original := tree.StatsSnapshot()
	reloadedStats := reloaded.StatsSnapshot()
	assert.Equal(t, original.NodeCount, reloadedStats.NodeCount)
}

func TestDumpMetadataRoundTripPreservesBounds(t *testing.T) {
	tree := loadTestTree(t)
	dumped, err := tree.DumpMetadata()
	assert.Equal(t, err, nil)

	reloaded := NewSignalTree()
	assert.Equal(t, reloaded.Init(dumped), nil)

	p := MustParsePath("Vehicle.Acceleration.Vertical")
	original, err := tree.GetMetadata(p)
	assert.Equal(t, err, nil)
	roundTripped, err := reloaded.GetMetadata(p)
	assert.Equal(t, err, nil)

	originalMap := original.(map[string]any)
	roundTrippedMap := roundTripped.(map[string]any)
	assert.Equal(t, roundTrippedMap["min"].(Value).F, originalMap["min"].(Value).F)
	assert.Equal(t, roundTrippedMap["max"].(Value).F, originalMap["max"].(Value).F)
	assert.Equal(t, roundTrippedMap["min"].(Value).F, float64(-100))
	assert.Equal(t, roundTrippedMap["max"].(Value).F, float64(100))
}
