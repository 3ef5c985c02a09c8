// Package domain defines the telemetry item model shared by the sorter
// pipeline: items submitted for classification, the classification result,
// and the category-to-destination routing table.
package domain

import (
	"bytes"
	"encoding/json"
	"strings"
)

// ItemType identifies the kind of telemetry record.
type ItemType string

const (
	TypeTrace  ItemType = "trace"
	TypeMetric ItemType = "metric"
	TypeLog    ItemType = "log"
	TypeError  ItemType = "error"
	TypeEvent  ItemType = "event"
)

// ValidItemType reports whether t is one of the recognized item types.
func ValidItemType(t ItemType) bool {
	switch t {
	case TypeTrace, TypeMetric, TypeLog, TypeError, TypeEvent:
		return true
	}
	return false
}

// Category is the severity class assigned by the model.
type Category string

const (
	CategoryCritical Category = "critical"
	CategoryWarning  Category = "warning"
	CategoryInfo     Category = "info"
)

// ValidCategory reports whether c is one of the recognized categories.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryCritical, CategoryWarning, CategoryInfo:
		return true
	}
	return false
}

// Destination names a downstream sink the collector fans items into.
type Destination string

const (
	DestAlerting Destination = "alerting"
	DestStorage  Destination = "storage"
	DestArchive  Destination = "archive"
)

// Item is a single telemetry record submitted for classification.
// Content is intentionally schemaless: any JSON value tree.
type Item struct {
	Type    ItemType       `json:"type"`
	Content map[string]any `json:"content"`
}

// Batch is the /sort request payload.
type Batch struct {
	Items []Item `json:"items"`
}

// Classification is the result for a single item.
type Classification struct {
	Category  Category    `json:"category"`
	ForwardTo Destination `json:"forward_to"`
}

// SortedItem pairs an input item with its classification in the response.
type SortedItem struct {
	Item      Item        `json:"item"`
	Category  Category    `json:"category"`
	ForwardTo Destination `json:"forward_to"`
}

// DestinationFor returns the routing destination for a category. The mapping
// is total and overrides whatever the upstream model paired with the category.
func DestinationFor(c Category) Destination {
	switch c {
	case CategoryCritical:
		return DestAlerting
	case CategoryWarning:
		return DestStorage
	default:
		return DestArchive
	}
}

// Fallback is the classification applied when the upstream is unreachable or
// returns something unusable. Telemetry is never dropped: it lands in the
// archive sink for later reprocessing.
func Fallback() Classification {
	return Classification{Category: CategoryInfo, ForwardTo: DestArchive}
}

// Normalize forces the category/destination pairing to the canonical mapping.
// An unrecognized category degrades to the fallback. Idempotent.
func Normalize(c Classification) Classification {
	if !ValidCategory(c.Category) {
		return Fallback()
	}
	c.ForwardTo = DestinationFor(c.Category)
	return c
}

// EncodeItems renders items as compact JSON for embedding in a model prompt.
// HTML escaping is off, so redaction placeholders such as <EMAIL> stay literal.
func EncodeItems(items []Item) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(items); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
