package store

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/najoast/bobnet/block"
)

func TestPutGet(t *testing.T) {
	s := New()
	tests := []struct {
		path  string
		value []any
	}{
		{"tA", []any{"basic"}},
		{"tA", []any{"overwrite"}},
		{"tB.t2", []any{14}},
		{"tB.t3", []any{1, 2, 3}},
		{"tC.t2.t3.t4.t5.t6.t7.t8.t9.t0", []any{"max"}},
		{"tC.t2", []any{5, []any{nil}}},
		{"tC.t2", []any{nil}},
	}

	for _, tt := range tests {
		require.NoError(t, s.Put(tt.path, tt.value))
		got, err := s.Get(tt.path)
		require.NoError(t, err)
		assert.Equal(t, tt.value, got, tt.path)
	}
}

func TestPutWrapsScalarsAndConvertsSlices(t *testing.T) {
	s := New()

	require.NoError(t, s.Put("t1", 123))
	got, err := s.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, []any{123}, got)

	require.NoError(t, s.Put("t2", []string{"a", "b"}))
	got, err = s.Get("t2")
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, got)

	require.NoError(t, s.Put("t3", []byte("raw")))
	got, err = s.Get("t3")
	require.NoError(t, err)
	assert.Equal(t, []any{[]byte("raw")}, got)
}

func TestPutEmptySequenceFails(t *testing.T) {
	s := New()
	assert.ErrorIs(t, s.Put("t1", []any{}), ErrEmptyValue)

	got, err := s.Get("t1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetReturnsCopy(t *testing.T) {
	s := New()
	require.NoError(t, s.Put("t1", []any{1, 2}))

	got, err := s.Get("t1")
	require.NoError(t, err)
	got[0] = 99

	again, err := s.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2}, again)
}

func TestClear(t *testing.T) {
	s := New()
	require.NoError(t, s.Put("t1.t2", []any{1}))

	got, err := s.Get("t1.t2")
	require.NoError(t, err)
	assert.Equal(t, []any{1}, got)

	require.NoError(t, s.Clear("t1.t2"))
	got, err = s.Get("t1.t2")
	require.NoError(t, err)
	assert.Nil(t, got)

	journal, err := s.Journal()
	require.NoError(t, err)
	require.Len(t, journal, 2)
	assert.Equal(t, KillValue, journal[1].Payload)
	assert.Equal(t, MethodPut, journal[1].Method())
}

func TestPutThroughSequenceFails(t *testing.T) {
	s := New()
	require.NoError(t, s.Put("t1", 1))
	assert.ErrorIs(t, s.Put("t1.t2", 2), ErrPath)

	got, err := s.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, []any{1}, got)
}

func TestPathTooLong(t *testing.T) {
	s := New()
	long := "t" + strings.Repeat(".t", MaxPathLength)

	assert.ErrorIs(t, s.Put(long, []any{1}), ErrPath)
	assert.ErrorIs(t, s.Add(long, 1), ErrPath)
	assert.ErrorIs(t, s.AddAll(long, []any{1}), ErrPath)

	journal, err := s.Get(JournalPath)
	require.NoError(t, err)
	assert.Empty(t, journal)
	assert.Empty(t, s.root)
}

func TestInvalidPath(t *testing.T) {
	s := New()
	for _, path := range []string{"", ".", "a..b", "a."} {
		assert.ErrorIs(t, s.Put(path, []any{1}), ErrPath, path)
		assert.ErrorIs(t, s.Add(path, 1), ErrPath, path)
		assert.ErrorIs(t, s.AddAll(path, []any{1}), ErrPath, path)
	}
	assert.Empty(t, s.root)
}

func TestGetObj(t *testing.T) {
	s := New()
	require.NoError(t, s.Put("t1", 123))
	v, err := s.GetObj("t1")
	require.NoError(t, err)
	assert.Equal(t, 123, v)

	require.NoError(t, s.Put("t1", []any{1, 2}))
	_, err = s.GetObj("t1")
	assert.ErrorIs(t, err, ErrNotSingle)
}

func TestAdd(t *testing.T) {
	s := New()
	require.NoError(t, s.Add("t1.t2", 1))
	require.NoError(t, s.Add("t1.t2", nil))

	got, err := s.Get("t1.t2")
	require.NoError(t, err)
	assert.Equal(t, []any{1, nil}, got)

	require.NoError(t, s.AddAll("t1.t2", []any{"A", 3}))
	got, err = s.Get("t1.t2")
	require.NoError(t, err)
	assert.Equal(t, []any{1, nil, "A", 3}, got)
}

func TestGetFiltered(t *testing.T) {
	s := New()
	require.NoError(t, s.Put("t1", []any{1, 2, 3, 4}))

	odd, err := s.GetFiltered("t1", func(v any) bool { return v.(int)%2 == 1 })
	require.NoError(t, err)
	assert.Equal(t, []any{1, 3}, odd)
}

func TestGetLasts(t *testing.T) {
	s := New()
	require.NoError(t, s.Put("t1", []any{1, 2, 3, 4}))

	got, err := s.GetLasts("t1", 1)
	require.NoError(t, err)
	assert.Equal(t, []any{4}, got)

	got, err = s.GetLasts("t1", 2)
	require.NoError(t, err)
	assert.Equal(t, []any{3, 4}, got)

	got, err = s.GetLasts("t1", 5)
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2, 3, 4}, got)

	got, err = s.GetLasts("missing", 3)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGetSince(t *testing.T) {
	s := New()
	require.NoError(t, s.Put("p", []any{1, 2}))
	require.NoError(t, s.Add("p", 3))

	got, err := s.Get("p")
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2, 3}, got)

	since, err := s.GetSince("p", 2)
	require.NoError(t, err)
	assert.Equal(t, []any{3}, since)

	since, err = s.GetSince("p", 3)
	require.NoError(t, err)
	assert.Empty(t, since)

	_, err = s.GetSince("p", 42)
	assert.ErrorIs(t, err, ErrUnknownCursor)
}

func TestGetSinceFirstMatchOnDuplicates(t *testing.T) {
	s := New()
	require.NoError(t, s.Put("p", []any{"a", "b", "a", "c"}))

	since, err := s.GetSince("p", "a")
	require.NoError(t, err)
	assert.Equal(t, []any{"b", "a", "c"}, since)
}

func TestGetSinceBytesAndBlocks(t *testing.T) {
	s := New()
	require.NoError(t, s.Add("q", []byte("one")))
	require.NoError(t, s.Add("q", []byte("two")))

	since, err := s.GetSince("q", []byte("one"))
	require.NoError(t, err)
	assert.Equal(t, []any{[]byte("two")}, since)

	journal, err := s.Get(JournalPath)
	require.NoError(t, err)
	require.Len(t, journal, 2)

	rest, err := s.GetSince(JournalPath, journal[0])
	require.NoError(t, err)
	assert.Len(t, rest, 1)
}

func TestJournal(t *testing.T) {
	s := New()
	require.NoError(t, s.Put("t1", []any{"a"}))
	require.NoError(t, s.Add("t1", "b"))

	journal, err := s.Journal()
	require.NoError(t, err)
	require.Len(t, journal, 2)

	assert.Equal(t, []any{"a"}, journal[0].Payload)
	assert.Equal(t, map[string]string{block.MetaMethod: MethodPut, block.MetaPath: "t1"}, journal[0].Metadata)
	assert.Equal(t, "b", journal[1].Payload)
	assert.Equal(t, map[string]string{block.MetaMethod: MethodAdd, block.MetaPath: "t1"}, journal[1].Metadata)

	for _, b := range journal {
		assert.Equal(t, Author, b.Author)
		assert.True(t, b.Valid())
	}
}

func TestPutWithoutJournal(t *testing.T) {
	s := New()
	require.NoError(t, s.Put("t1", "x", WithoutJournal()))

	journal, err := s.Journal()
	require.NoError(t, err)
	assert.Empty(t, journal)
}

func TestUnjournalablePayloadLeavesStateUntouched(t *testing.T) {
	s := New()
	err := s.Add("t1", make(chan int))
	assert.ErrorIs(t, err, block.ErrInvalidField)

	got, err := s.Get("t1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestProcessBlock(t *testing.T) {
	src := New()
	require.NoError(t, src.Put("p1", []any{"A"}))
	require.NoError(t, src.Add("p1", "B"))
	require.NoError(t, src.Add("p2.x", 7))
	require.NoError(t, src.Clear("p2.x"))

	dst := New()
	journal, err := src.Journal()
	require.NoError(t, err)
	require.NoError(t, Replay(dst, journal))

	got, err := dst.Get("p1")
	require.NoError(t, err)
	assert.Equal(t, []any{"A", "B"}, got)

	got, err = dst.Get("p2.x")
	require.NoError(t, err)
	assert.Nil(t, got)

	replayed, err := dst.Journal()
	require.NoError(t, err)
	require.Len(t, replayed, len(journal))
	for i := range journal {
		assert.Equal(t, journal[i].Hash, replayed[i].Hash)
	}
}

func TestProcessBlockKeepsValueTypes(t *testing.T) {
	src := New()
	require.NoError(t, src.Put("blob", []byte{1, 2, 3}))
	require.NoError(t, src.Put("num", 1.5))
	require.NoError(t, src.Put("whole", 2.0))
	require.NoError(t, src.Add("mixed", []any{7, []byte("x"), map[string]any{"$bytes": "not tagged"}}))
	require.NoError(t, src.Add("mixed", map[string]any{"n": 3, "f": 0.25}))

	dst := New()
	journal, err := src.Journal()
	require.NoError(t, err)
	require.NoError(t, Replay(dst, journal))

	for _, path := range []string{"blob", "num", "whole", "mixed"} {
		want, err := src.Get(path)
		require.NoError(t, err)
		got, err := dst.Get(path)
		require.NoError(t, err)
		assert.Equal(t, want, got, path)
	}

	blob, err := dst.GetObj("blob")
	require.NoError(t, err)
	assert.True(t, Equal([]byte{1, 2, 3}, blob))

	rest, err := dst.GetSince("mixed", []any{7, []byte("x"), map[string]any{"$bytes": "not tagged"}})
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"n": 3, "f": 0.25}}, rest)
}

func TestProcessBlockRefusesJournalPath(t *testing.T) {
	s := New()
	require.NoError(t, s.Put("p", "A"))

	for _, method := range []string{MethodAdd, MethodPut} {
		b, err := block.Create("peer", "entry", map[string]string{block.MetaMethod: method, block.MetaPath: JournalPath})
		require.NoError(t, err)
		raw, err := block.Serialize(b)
		require.NoError(t, err)
		assert.ErrorIs(t, s.ProcessBlock(raw), ErrPath, method)
	}

	journal, err := s.Get(JournalPath)
	require.NoError(t, err)
	require.Len(t, journal, 1)
	_, ok := journal[0].(block.Block)
	assert.True(t, ok)
}

func TestProcessBlockRejects(t *testing.T) {
	s := New()

	assert.ErrorIs(t, s.ProcessBlock([]byte("garbage")), block.ErrNotBlock)

	b, err := block.Create("t1", "A", map[string]string{block.MetaMethod: "drop", block.MetaPath: "p"})
	require.NoError(t, err)
	raw, err := block.Serialize(b)
	require.NoError(t, err)
	assert.ErrorIs(t, s.ProcessBlock(raw), ErrUnknownMethod)

	tampered := strings.Replace(string(raw), `"payload":"A"`, `"payload":"Z"`, 1)
	assert.ErrorIs(t, s.ProcessBlock([]byte(tampered)), block.ErrIntegrity)

	got, err := s.Get("p")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestObserverSeesJournalOrder(t *testing.T) {
	rec := NewRecorder()
	s := New(WithObserver(rec))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			require.NoError(t, s.Add("shared", i))
		}(i)
	}
	wg.Wait()

	got, err := s.Get("shared")
	require.NoError(t, err)
	assert.Len(t, got, 20)
	assert.Equal(t, got, rec.Values("shared"))

	journal, err := s.Journal()
	require.NoError(t, err)
	updates := rec.Updates("")
	require.Len(t, updates, len(journal))
	for i := range journal {
		assert.Equal(t, journal[i].Hash, updates[i].Block.Hash)
	}
}

func TestIsPrivate(t *testing.T) {
	assert.True(t, IsPrivate("a.b_"))
	assert.True(t, IsPrivate("clients_"))
	assert.False(t, IsPrivate("a_.b"))
	assert.False(t, IsPrivate("p1"))
}
