package tally

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind identifies an entity type. Each kind is stored in its own table and
// pushed to its own remote endpoint.
type Kind string

const (
	KindCustomer    Kind = "customer"
	KindDealer      Kind = "dealer"
	KindBankAccount Kind = "bank_account"
	KindInvoice     Kind = "invoice"
)

// SyncOrder lists kinds in the order the sync engine pushes them.
// A kind appears after every kind it references.
var SyncOrder = []Kind{KindCustomer, KindDealer, KindBankAccount, KindInvoice}

// ParseKind converts a string such as "customer" or "bank-account" to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "customer", "customers":
		return KindCustomer, nil
	case "dealer", "dealers":
		return KindDealer, nil
	case "bank_account", "bank-account", "bank_accounts", "bank-accounts":
		return KindBankAccount, nil
	case "invoice", "invoices":
		return KindInvoice, nil
	default:
		return "", fmt.Errorf("unknown entity kind: %q", s)
	}
}

// Endpoint returns the remote collection path for the kind.
func (k Kind) Endpoint() string {
	switch k {
	case KindCustomer:
		return "customers"
	case KindDealer:
		return "dealers"
	case KindBankAccount:
		return "bank_accounts"
	case KindInvoice:
		return "invoices"
	default:
		return ""
	}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k.Endpoint() != ""
}

// SyncableEntity is implemented by every domain type that can be stored
// locally and pushed to the remote API. The store and the sync engine only
// see this interface; domain fields travel as JSON.
type SyncableEntity interface {
	Kind() Kind
	Validate() error
}

// Reference links a field of one entity to the local id of another row.
// At push time the sync engine replaces the local id with the referenced
// row's server id under RemoteField.
type Reference struct {
	Field       string
	RemoteField string
	Kind        Kind
	LocalID     string
}

// Referencing is implemented by entities that point at other rows.
type Referencing interface {
	References() []Reference
}

// DecodeEntity unmarshals a JSON payload into the concrete entity for kind.
func DecodeEntity(kind Kind, payload []byte) (SyncableEntity, error) {
	return decodeEntity(kind, payload, false)
}

// decodeEntity is DecodeEntity; strict rejects keys the kind does not define.
func decodeEntity(kind Kind, payload []byte, strict bool) (SyncableEntity, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	if strict {
		dec.DisallowUnknownFields()
	}

	var (
		entity SyncableEntity
		err    error
	)
	switch kind {
	case KindCustomer:
		var c Customer
		err = dec.Decode(&c)
		entity = c
	case KindDealer:
		var d Dealer
		err = dec.Decode(&d)
		entity = d
	case KindBankAccount:
		var b BankAccount
		err = dec.Decode(&b)
		entity = b
	case KindInvoice:
		var i Invoice
		err = dec.Decode(&i)
		entity = i
	default:
		return nil, fmt.Errorf("unknown entity kind: %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s payload: %w", kind, err)
	}
	return entity, nil
}

// EncodeEntity validates an entity and returns its JSON payload.
func EncodeEntity(entity SyncableEntity) (json.RawMessage, error) {
	if err := entity.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", entity.Kind(), err)
	}
	return data, nil
}

// MergePayload applies fields on top of payload's top-level keys, removing
// keys whose value is nil, and validates the result as an entity of kind.
// A field the kind does not define is an ErrInvalidEntity.
func MergePayload(kind Kind, payload []byte, fields map[string]any) (json.RawMessage, error) {
	patch, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encoding %s fields: %w", kind, err)
	}
	if _, err := decodeEntity(kind, patch, true); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntity, err)
	}

	doc := map[string]any{}
	if len(payload) > 0 {
		dec := json.NewDecoder(bytes.NewReader(payload))
		dec.UseNumber()
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decoding %s payload: %w", kind, err)
		}
	}
	for k, v := range fields {
		if v == nil {
			delete(doc, k)
			continue
		}
		doc[k] = v
	}

	merged, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", kind, err)
	}

	entity, err := DecodeEntity(kind, merged)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntity, err)
	}
	return EncodeEntity(entity)
}
