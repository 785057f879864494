package model

import (
	"reflect"
	"testing"
)

func TestPositionOrdering(t *testing.T) {
	cases := []struct {
		a, b Position
		want int
	}{
		{Position{100, 0, 0}, Position{101, 0, 0}, -1},
		{Position{100, 2, 0}, Position{100, 1, 9}, 1},
		{Position{100, 2, 1}, Position{100, 2, 3}, -1},
		{Position{7, 7, 7}, Position{7, 7, 7}, 0},
	}
	for _, tc := range cases {
		if got := tc.a.Compare(tc.b); got != tc.want {
			t.Fatalf("Compare(%v, %v) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
	if !(Position{1, 0, 0}).Less(Position{1, 0, 1}) {
		t.Fatalf("expected less")
	}
}

func TestMessageID(t *testing.T) {
	if got := MessageID("testnet", Position{100, 2, 0}); got != "testnet:100:2:0" {
		t.Fatalf("message id mismatch: %s", got)
	}
}

func TestGroupByHeight(t *testing.T) {
	events := []ChainEvent{
		{BlockHeight: 12, TransactionIndex: 1, EventIndex: 0, Type: "c"},
		{BlockHeight: 10, TransactionIndex: 3, EventIndex: 1, Type: "b"},
		{BlockHeight: 10, TransactionIndex: 0, EventIndex: 4, Type: "a"},
		{BlockHeight: 10, TransactionIndex: 3, EventIndex: 0, Type: "a2"},
	}

	blocks := GroupByHeight(events)
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(blocks))
	}
	if blocks[0].Height != 10 || blocks[1].Height != 12 {
		t.Fatalf("heights mismatch: %d, %d", blocks[0].Height, blocks[1].Height)
	}

	var got []string
	for _, ev := range blocks[0].Events {
		got = append(got, ev.Type)
	}
	want := []string{"a", "a2", "b"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("order mismatch: %v != %v", got, want)
	}
}
