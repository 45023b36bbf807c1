package segment

import (
	"testing"
	"time"
)

func TestNewOffsets_SortsByPartition(t *testing.T) {
	offsets := NewOffsets(
		PartitionOffsetRange{Partition: 2, Start: 5, End: 9},
		PartitionOffsetRange{Partition: 0, Start: 0, End: 10},
		PartitionOffsetRange{Partition: 1, Start: 3, End: 3},
	)

	want := []int32{0, 1, 2}
	got := offsets.Partitions()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Partitions() = %v, want %v", got, want)
		}
	}
}

func TestOffsets_Totals(t *testing.T) {
	offsets := NewOffsets(
		PartitionOffsetRange{Partition: 0, Start: 0, End: 100},
		PartitionOffsetRange{Partition: 1, Start: 50, End: 75},
	)

	if got := offsets.TotalStart(); got != 50 {
		t.Errorf("TotalStart() = %d, want 50", got)
	}
	if got := offsets.TotalEnd(); got != 175 {
		t.Errorf("TotalEnd() = %d, want 175", got)
	}
	if got := offsets.MessageCount(); got != 125 {
		t.Errorf("MessageCount() = %d, want 125", got)
	}
	if offsets.IsEmpty() {
		t.Error("IsEmpty() = true, want false")
	}
}

func TestPartitionOffsetRange_Contains(t *testing.T) {
	r := PartitionOffsetRange{Partition: 0, Start: 10, End: 20}

	tests := []struct {
		offset int64
		want   bool
	}{
		{9, false},
		{10, true},
		{19, true},
		{20, false},
	}

	for _, tt := range tests {
		if got := r.Contains(tt.offset); got != tt.want {
			t.Errorf("Contains(%d) = %v, want %v", tt.offset, got, tt.want)
		}
	}
}

func TestOffsets_Equal(t *testing.T) {
	a := Offsets{{Partition: 1, Start: 0, End: 5}, {Partition: 0, Start: 0, End: 3}}
	b := NewOffsets(PartitionOffsetRange{Partition: 0, Start: 0, End: 3}, PartitionOffsetRange{Partition: 1, Start: 0, End: 5})

	if !a.Equal(b) {
		t.Errorf("expected %v to equal %v", a, b)
	}
	b[0].End = 4
	if a.Equal(b) {
		t.Errorf("expected %v to differ from %v", a, b)
	}
}

func TestTimeRange_Union(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	first := TimeRange{Start: base, End: base.Add(time.Hour)}
	second := TimeRange{Start: base.Add(time.Hour), End: base.Add(3 * time.Hour)}

	got := first.Union(second)
	if !got.Start.Equal(base) || !got.End.Equal(base.Add(3*time.Hour)) {
		t.Errorf("Union() = %+v", got)
	}

	if got := (TimeRange{}).Union(first); got != first {
		t.Errorf("zero.Union(first) = %+v, want %+v", got, first)
	}
}

func TestStatus_Sealed(t *testing.T) {
	tests := map[Status]bool{
		StatusNew:          false,
		StatusSeeked:       false,
		StatusMaterialized: true,
		StatusReady:        true,
		StatusFailed:       false,
	}
	for status, want := range tests {
		if got := status.Sealed(); got != want {
			t.Errorf("%s.Sealed() = %v, want %v", status, got, want)
		}
	}
}
