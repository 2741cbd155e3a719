package geosync

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEntity(id string, latitude float64, longitude float64) *Entity {
	return &Entity{
		Id:         id,
		Collection: CollectionDonations,
		Position: Position{
			Latitude:  latitude,
			Longitude: longitude,
		},
	}
}

func TestSpatialIndexSearchBox(t *testing.T) {
	index := NewSpatialIndex()
	index.Replace([]*Entity{
		testEntity("a", 22.70, 75.85),
		testEntity("b", 22.75, 75.90),
		testEntity("c", 23.50, 76.50),
	})
	require.Equal(t, 3, index.Size())

	entities := index.SearchBox(&BoundingBox{
		Southwest: Position{Latitude: 22.60, Longitude: 75.80},
		Northeast: Position{Latitude: 22.80, Longitude: 75.95},
	})
	require.Len(t, entities, 2)

	ids := []string{entities[0].Id, entities[1].Id}
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
}

func TestSpatialIndexInclusiveEdges(t *testing.T) {
	index := NewSpatialIndex()
	index.Replace([]*Entity{
		testEntity("corner", 10, 10),
		testEntity("edge", 10, 15),
		testEntity("outside", 9.99, 15),
	})

	entities := index.SearchBox(&BoundingBox{
		Southwest: Position{Latitude: 10, Longitude: 10},
		Northeast: Position{Latitude: 20, Longitude: 20},
	})
	require.Len(t, entities, 2)
	for _, entity := range entities {
		assert.NotEqual(t, "outside", entity.Id)
	}
}

func TestSpatialIndexReplace(t *testing.T) {
	index := NewSpatialIndex()

	first := []*Entity{}
	for i := 0; i < 100; i++ {
		first = append(first, testEntity(fmt.Sprintf("first-%d", i), 22.70, 75.85))
	}
	index.Replace(first)
	require.Equal(t, 100, index.Size())

	// a replace swaps the whole snapshot
	index.Replace([]*Entity{testEntity("second", 22.70, 75.85)})
	require.Equal(t, 1, index.Size())

	entities := index.SearchBox(&BoundingBox{
		Southwest: Position{Latitude: 22, Longitude: 75},
		Northeast: Position{Latitude: 23, Longitude: 76},
	})
	require.Len(t, entities, 1)
	assert.Equal(t, "second", entities[0].Id)
}

func TestSpatialIndexEmpty(t *testing.T) {
	index := NewSpatialIndex()
	entities := index.SearchBox(&BoundingBox{
		Southwest: Position{Latitude: 10, Longitude: 10},
		Northeast: Position{Latitude: 20, Longitude: 20},
	})
	assert.Empty(t, entities)
}
