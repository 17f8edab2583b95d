package types

import (
	"fmt"

	"github.com/oklog/ulid/v2"
)

// GenerateUUID returns a k-sortable unique identifier
func GenerateUUID() string {
	return ulid.Make().String()
}

// GenerateUUIDWithPrefix returns a k-sortable unique identifier
// with a prefix ex tsub_01HZX3K4M9R2YQ8V5T7N6B1C0D
func GenerateUUIDWithPrefix(prefix string) string {
	if prefix == "" {
		return GenerateUUID()
	}
	return fmt.Sprintf("%s_%s", prefix, GenerateUUID())
}

const (
	UUID_PREFIX_PLAN                 = "plan"
	UUID_PREFIX_PLAN_FEATURE         = "pfeat"
	UUID_PREFIX_SUBSCRIPTION         = "tsub"
	UUID_PREFIX_ENTITLEMENT_OVERRIDE = "eovr"
	UUID_PREFIX_INVOICE              = "inv"
	UUID_PREFIX_PAYOUT               = "po"
	UUID_PREFIX_REFUND               = "ref"
	UUID_PREFIX_DISPUTE              = "dsp"
	UUID_PREFIX_AUDIT                = "audit"
	UUID_PREFIX_WEBHOOK_EVENT        = "whevt"
	UUID_PREFIX_REMINDER             = "rmd"
)
