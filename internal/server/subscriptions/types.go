package subscriptions

import (
	"time"
)

// Event represents a relationship change that can trigger subscriptions
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"` // relationship.created, relationship.updated, relationship.deleted
	Timestamp time.Time `json:"timestamp"`

	RelationshipType string `json:"relationship_type"`
	SourceID         string `json:"source_id"`
	SourceType       string `json:"source_type"`
	TargetID         string `json:"target_id"`
	TargetType       string `json:"target_type"`

	Properties map[string]any `json:"properties,omitempty"`
}

// Event type constants
const (
	EventRelationshipCreated = "relationship.created"
	EventRelationshipUpdated = "relationship.updated"
	EventRelationshipDeleted = "relationship.deleted"
)

// SubscriptionPattern defines what events a subscription matches
type SubscriptionPattern struct {
	// Simple matching (evaluated in Go, fast)
	EventTypes        []string       `json:"event_types,omitempty" yaml:"event_types,omitempty"`
	RelationshipTypes []string       `json:"relationship_types,omitempty" yaml:"relationship_types,omitempty"`
	EntityTypes       []string       `json:"entity_types,omitempty" yaml:"entity_types,omitempty"` // either endpoint
	PropertyMatch     map[string]any `json:"property_match,omitempty" yaml:"property_match,omitempty"`

	// Advanced matching (read-only Cypher, evaluated against the graph store)
	Cypher string `json:"cypher,omitempty" yaml:"cypher,omitempty"`
}

// Subscription represents a standing query that fires when patterns match
type Subscription struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	Pattern SubscriptionPattern `json:"pattern" yaml:"pattern"`

	// How to notify
	Webhook string `json:"webhook,omitempty" yaml:"webhook,omitempty"` // URL to POST notifications
	Subject string `json:"subject,omitempty" yaml:"subject,omitempty"` // NATS subject

	// State
	Enabled   bool       `json:"enabled" yaml:"-"`
	Created   time.Time  `json:"created" yaml:"-"`
	Modified  time.Time  `json:"modified" yaml:"-"`
	LastFired *time.Time `json:"last_fired,omitempty" yaml:"-"`
	FireCount int        `json:"fire_count" yaml:"-"`
}

// Notification is sent when a subscription pattern matches
type Notification struct {
	SubscriptionID   string    `json:"subscription_id"`
	SubscriptionName string    `json:"subscription_name"`
	Event            Event     `json:"event"`
	MatchedAt        time.Time `json:"matched_at"`

	// For Cypher patterns, include query results
	QueryResults []map[string]any `json:"query_results,omitempty"`
}

// CreateSubscriptionRequest is the API request to create a subscription
type CreateSubscriptionRequest struct {
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Pattern     SubscriptionPattern `json:"pattern"`
	Webhook     string              `json:"webhook,omitempty"`
	Subject     string              `json:"subject,omitempty"`
}

// UpdateSubscriptionRequest is the API request to update a subscription
type UpdateSubscriptionRequest struct {
	Name        *string              `json:"name,omitempty"`
	Description *string              `json:"description,omitempty"`
	Pattern     *SubscriptionPattern `json:"pattern,omitempty"`
	Webhook     *string              `json:"webhook,omitempty"`
	Subject     *string              `json:"subject,omitempty"`
	Enabled     *bool                `json:"enabled,omitempty"`
}

// ListSubscriptionsResponse is the API response for listing subscriptions
type ListSubscriptionsResponse struct {
	Subscriptions []*Subscription `json:"subscriptions"`
	Count         int             `json:"count"`
}
