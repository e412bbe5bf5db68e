package tags

import (
	"errors"
	"reflect"
	"testing"
)

func TestAggregateOrdersSystemBeforeCoach(t *testing.T) {
	got := Aggregate([]string{"image:bold", "phase:early"}, []string{"coach:vip"})
	want := []string{"image:bold", "phase:early", "coach:vip"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestAggregateDropsEmptyAndDuplicates(t *testing.T) {
	got := Aggregate([]string{"a", "", "b", "a"}, []string{" ", "coach:x", "b"})
	want := []string{"a", "b", "coach:x"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
	if got := Aggregate(nil, nil); len(got) != 0 {
		t.Fatalf("expected empty result, got %v", got)
	}
}

func TestValidateCoachTag(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "coach:vip", want: "coach:vip"},
		{in: "  coach:needs-follow-up ", want: "coach:needs-follow-up"},
		{in: "image:bold", wantErr: true},
		{in: "coach:", wantErr: true},
		{in: "coach:   ", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ValidateCoachTag(tc.in)
		if tc.wantErr {
			if !errors.Is(err, ErrInvalidCoachTag) {
				t.Fatalf("%q: expected ErrInvalidCoachTag, got %v", tc.in, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("%q: got %q, %v", tc.in, got, err)
		}
	}
}
