package model

import "time"

// Subject is one catalogue entry students can register for.  Prices are read
// by the engine at registration time and snapshotted onto the registration;
// later edits to a subject never retroactively change existing registrations.
//
// Fields:
//  ID            – primary key identifier.
//  Name          – display name ("Mathematics").
//  Code          – exam board code ("0580").
//  PriceInSchool – price for in-school candidates.
//  PriceExternal – price for external candidates; nil when the subject is
//                  not offered externally.
//  IsCore        – whether the subject is mandatory for Grade-10 June sittings.
//  IsActive      – inactive subjects are hidden from checkout.
type Subject struct {
	ID            uint64    // subjects.id
	Name          string    // subjects.name
	Code          string    // subjects.code
	PriceInSchool Money     // subjects.price_in_school_piastres
	PriceExternal *Money    // subjects.price_external_piastres (nullable)
	IsCore        bool      // subjects.is_core
	IsActive      bool      // subjects.is_active
	CreatedAt     time.Time // subjects.created_at
	UpdatedAt     time.Time // subjects.updated_at
}
