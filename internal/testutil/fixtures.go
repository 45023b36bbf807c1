package testutil

import (
	"encoding/json"
	"math/rand"
	"testing"
	"time"

	"github.com/jaswdr/faker"

	"github.com/jittakal/kafbridge/internal/source/memsource"
	"github.com/jittakal/kafbridge/pkg/segment"
)

// FixtureStart is the timestamp of the first generated order.
var FixtureStart = time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)

// OrderColumns is the flat-table schema of generated orders.
var OrderColumns = segment.Schema{
	{Name: "user", Type: "string"},
	{Name: "amount", Type: "int"},
	{Name: "day_start", Type: "date"},
}

// FillOrders appends perPartition JSON order events to every partition of
// topic. When malformedEvery is positive, every message whose index i
// satisfies i%malformedEvery == malformedEvery-1 is invalid JSON. Message i
// is stamped FixtureStart + i seconds. It returns the number of malformed
// messages written.
//
// Fakes are seeded, so two calls with the same arguments produce the same
// topic contents.
func FillOrders(t testing.TB, src *memsource.Source, topic string, partitions, perPartition, malformedEvery int) int {
	t.Helper()

	fake := faker.NewWithSeed(rand.NewSource(42))
	src.CreateTopic(topic, partitions)

	malformed := 0
	for p := 0; p < partitions; p++ {
		for i := 0; i < perPartition; i++ {
			ts := FixtureStart.Add(time.Duration(i) * time.Second)

			var payload []byte
			if malformedEvery > 0 && i%malformedEvery == malformedEvery-1 {
				payload = []byte(`{"user": "broken`)
				malformed++
			} else {
				var err error
				payload, err = json.Marshal(map[string]any{
					"user":      fake.Person().FirstName(),
					"amount":    fake.IntBetween(1, 1000),
					"timestamp": ts.UnixMilli(),
				})
				if err != nil {
					t.Fatalf("marshal fixture: %v", err)
				}
			}

			if _, err := src.Append(topic, int32(p), nil, payload, ts); err != nil {
				t.Fatalf("append fixture: %v", err)
			}
		}
	}
	return malformed
}
