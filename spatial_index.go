package geosync

import (
	"sync"

	"github.com/dhconnelly/rtreego"
)

const (
	spatialTolerance   = 0.0001
	spatialMinChildren = 25
	spatialMaxChildren = 50
	spatialDimensions  = 2
)

type spatialItem struct {
	entity *Entity
	rect   *rtreego.Rect
}

func (self *spatialItem) Bounds() *rtreego.Rect {
	return self.rect
}

// SpatialIndex is an r-tree over the current snapshot, for viewport queries
// against large entity sets without a linear scan.
type SpatialIndex struct {
	mutex sync.RWMutex
	tree  *rtreego.Rtree
}

func NewSpatialIndex() *SpatialIndex {
	return &SpatialIndex{
		tree: rtreego.NewTree(spatialDimensions, spatialMinChildren, spatialMaxChildren),
	}
}

// Replace rebuilds the index from a full snapshot.
func (self *SpatialIndex) Replace(entities []*Entity) {
	tree := rtreego.NewTree(spatialDimensions, spatialMinChildren, spatialMaxChildren)
	for _, entity := range entities {
		point := rtreego.Point{entity.Position.Latitude, entity.Position.Longitude}
		tree.Insert(&spatialItem{
			entity: entity,
			rect:   point.ToRect(spatialTolerance),
		})
	}

	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.tree = tree
}

func (self *SpatialIndex) Size() int {
	self.mutex.RLock()
	defer self.mutex.RUnlock()
	return self.tree.Size()
}

// SearchBox returns all indexed entities within the box, inclusive on all
// edges. The r-tree overshoots by the index tolerance, so hits are verified
// with the exact containment test.
func (self *SpatialIndex) SearchBox(box *BoundingBox) []*Entity {
	lengths := []float64{
		max(box.Northeast.Latitude-box.Southwest.Latitude, spatialTolerance),
		max(box.Northeast.Longitude-box.Southwest.Longitude, spatialTolerance),
	}
	bounds, err := rtreego.NewRect(
		rtreego.Point{box.Southwest.Latitude, box.Southwest.Longitude},
		lengths,
	)
	if err != nil {
		return nil
	}

	self.mutex.RLock()
	results := self.tree.SearchIntersect(bounds)
	self.mutex.RUnlock()

	entities := make([]*Entity, 0, len(results))
	for _, result := range results {
		item, ok := result.(*spatialItem)
		if !ok {
			continue
		}
		if item.entity.Position.WithinBox(box) {
			entities = append(entities, item.entity)
		}
	}
	return entities
}
