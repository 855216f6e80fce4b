package authz

import (
	"fmt"

	"livesync/internal/identity"
	"livesync/internal/schema"
	"livesync/pkg/model"
)

// CheckPermission is the default policy. Creation is gated by the collection
// threshold only. For other operations the document owner and a caller acting
// on its own document always pass; everyone else needs the threshold.
func CheckPermission(caller identity.Identity, op schema.Operation, doc model.Document, coll *schema.Collection) bool {
	if doc != nil && op != schema.Create && caller.ID != "" {
		if coll.OwnerField != "" && ownerID(doc[coll.OwnerField]) == caller.ID {
			return true
		}
		if doc.GetID() == caller.ID {
			return true
		}
	}
	return caller.Level >= coll.Threshold(op)
}

func ownerID(v interface{}) string {
	switch o := v.(type) {
	case nil:
		return ""
	case string:
		return o
	case fmt.Stringer:
		return o.String()
	case map[string]interface{}:
		// populated reference
		return ownerID(o[model.FieldID])
	case model.Document:
		return o.GetID()
	}
	return ""
}
