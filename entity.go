package geosync

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// collections tracked by the map sync core
const (
	CollectionDonations  = "donations"
	CollectionRequests   = "requests"
	CollectionVolunteers = "volunteers"
)

type Role string

const (
	RoleDonor     Role = "donor"
	RoleNgo       Role = "ngo"
	RoleVolunteer Role = "volunteer"
	RoleAdmin     Role = "admin"
)

// donation lifecycle statuses as stored upstream
const (
	StatusAvailable = "available"
	StatusAssigned  = "assigned"
	StatusPicked    = "picked"
	StatusDelivered = "delivered"
)

// document field names in the store
const (
	fieldOwner    = "donorId"
	fieldAssignee = "assignedTo"
	fieldStatus   = "status"
	fieldFoodType = "foodType"
	fieldName     = "name"
	fieldQuantity = "quantity"
	fieldCreated  = "createdAt"
	fieldUpdated  = "updatedAt"
)

// Document is a raw change-feed record before normalization.
// Field values are json-decoded (string, float64, bool, nested maps).
type Document struct {
	Id     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// Entity is a normalized record from one of the tracked collections.
// Entities are immutable between snapshots. An update from the feed replaces
// the whole value, never mutates in place.
type Entity struct {
	Id         string
	Collection string
	Name       string
	Status     string
	OwnerId    string
	AssigneeId string
	FoodType   string
	Quantity   float64
	Position   Position
	CreateTime time.Time
	UpdateTime time.Time
}

func EntityFromDocument(collection string, document *Document, position Position) *Entity {
	return &Entity{
		Id:         document.Id,
		Collection: collection,
		Name:       stringField(document.Fields, fieldName),
		Status:     stringField(document.Fields, fieldStatus),
		OwnerId:    stringField(document.Fields, fieldOwner),
		AssigneeId: stringField(document.Fields, fieldAssignee),
		FoodType:   stringField(document.Fields, fieldFoodType),
		Quantity:   floatField(document.Fields, fieldQuantity),
		Position:   position,
		CreateTime: timeField(document.Fields, fieldCreated),
		UpdateTime: timeField(document.Fields, fieldUpdated),
	}
}

func stringField(fields map[string]any, name string) string {
	if value, ok := fields[name].(string); ok {
		return value
	}
	return ""
}

func floatField(fields map[string]any, name string) float64 {
	value, _ := numericValue(fields[name])
	return value
}

func timeField(fields map[string]any, name string) time.Time {
	switch value := fields[name].(type) {
	case string:
		if t, err := time.Parse(time.RFC3339, value); err == nil {
			return t
		}
	case float64:
		// epoch millis
		return time.UnixMilli(int64(value)).UTC()
	}
	return time.Time{}
}

// comparable
type Id [16]byte

func NewId() Id {
	return Id(ulid.Make())
}

func IdFromBytes(idBytes []byte) (Id, error) {
	if len(idBytes) != 16 {
		return Id{}, errors.New("Id must be 16 bytes")
	}
	return Id(idBytes), nil
}

func ParseId(idStr string) (Id, error) {
	return parseUuid(idStr)
}

func (self Id) Bytes() []byte {
	return self[0:16]
}

func (self Id) String() string {
	return encodeUuid(self)
}

func (self *Id) MarshalJSON() ([]byte, error) {
	var buf [16]byte
	copy(buf[0:16], self[0:16])
	var buff bytes.Buffer
	buff.WriteByte('"')
	buff.WriteString(encodeUuid(buf))
	buff.WriteByte('"')
	return buff.Bytes(), nil
}

func (self *Id) UnmarshalJSON(src []byte) error {
	if len(src) != 38 {
		return fmt.Errorf("invalid length for UUID: %v", len(src))
	}
	buf, err := parseUuid(string(src[1 : len(src)-1]))
	if err != nil {
		return err
	}
	*self = buf
	return nil
}

func parseUuid(src string) (dst [16]byte, err error) {
	switch len(src) {
	case 36:
		src = src[0:8] + src[9:13] + src[14:18] + src[19:23] + src[24:]
	case 32:
		// dashes already stripped, assume valid
	default:
		// assume invalid.
		return dst, fmt.Errorf("cannot parse UUID %v", src)
	}

	buf, err := hex.DecodeString(src)
	if err != nil {
		return dst, err
	}

	copy(dst[:], buf)
	return dst, err
}

func encodeUuid(src [16]byte) string {
	return fmt.Sprintf("%x-%x-%x-%x-%x", src[0:4], src[4:6], src[6:8], src[8:10], src[10:16])
}
