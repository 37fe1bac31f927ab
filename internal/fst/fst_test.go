package fst

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTestSet(t *testing.T, keys []string) *Set {
	t.Helper()
	data, err := Build(keys)
	require.NoError(t, err)
	s, err := Load(data)
	require.NoError(t, err)
	return s
}

func TestSet_ContainsRoundTrip(t *testing.T) {
	s := buildTestSet(t, []string{"apple", "application", "banana"})
	assert.True(t, s.Contains("apple"))
	assert.True(t, s.Contains("banana"))
	assert.False(t, s.Contains("applesauce"))
}

func TestSet_WithPrefixVisitsMatchesInOrder(t *testing.T) {
	s := buildTestSet(t, []string{"app", "apple", "application", "banana"})
	var got []string
	err := s.WithPrefix("app", func(key string) bool {
		got = append(got, key)
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"app", "apple", "application"}, got)
}

func TestSet_WithPrefixStopsEarly(t *testing.T) {
	s := buildTestSet(t, []string{"app", "apple", "application"})
	var got []string
	err := s.WithPrefix("app", func(key string) bool {
		got = append(got, key)
		return false
	})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSet_UnionDeduplicatesAcrossPrefixes(t *testing.T) {
	s := buildTestSet(t, []string{"cat", "catalog", "dog", "doge"})
	var got []string
	err := s.Union([]string{"cat", "dog"}, func(key string) bool {
		got = append(got, key)
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"cat", "catalog", "dog", "doge"}, got)
}

func TestSet_AllVisitsEveryKeyInOrder(t *testing.T) {
	s := buildTestSet(t, []string{"apple", "banana", "cherry"})
	var got []string
	err := s.All(func(key string) bool {
		got = append(got, key)
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"apple", "banana", "cherry"}, got)
}

func TestSet_AllStopsEarly(t *testing.T) {
	s := buildTestSet(t, []string{"apple", "banana", "cherry"})
	var got []string
	err := s.All(func(key string) bool {
		got = append(got, key)
		return false
	})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSet_EmptySetIsSafe(t *testing.T) {
	var s *Set
	assert.False(t, s.Contains("anything"))
	assert.Equal(t, 0, s.Len())
	assert.NoError(t, s.WithPrefix("x", func(string) bool { return true }))
}

func TestBuild_RejectsUnsortedKeys(t *testing.T) {
	_, err := Build([]string{"banana", "apple"})
	assert.Error(t, err)
}
