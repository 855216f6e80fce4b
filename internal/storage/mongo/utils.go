package mongo

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"livesync/pkg/model"
)

func makeFilterBSON(filters model.Filters) (bson.M, error) {
	bsonFilter := bson.M{}

	for _, f := range filters {
		if !f.Validate() {
			return nil, model.Validationf("invalid filter on %q", f.Field)
		}
		fieldName := mapField(f.Field)
		op := mapOp(f.Op)
		value := f.Value
		if f.Op == model.OpContains {
			value = bson.A{f.Value}
		}
		mergeOp(bsonFilter, fieldName, op, value)
	}

	return bsonFilter, nil
}

// mergeOp adds an operator to a field condition so several filters on the same
// field combine with AND semantics.
func mergeOp(filter bson.M, field, op string, value interface{}) {
	cond, ok := filter[field].(bson.M)
	if !ok {
		cond = bson.M{}
		filter[field] = cond
	}
	if _, exists := cond[op]; exists && op == "$eq" {
		// Two equalities on one field: both must hold.
		and, _ := filter["$and"].(bson.A)
		filter["$and"] = append(and, bson.M{field: bson.M{op: value}})
		return
	}
	cond[op] = value
}

func makeSortBSON(orders []model.Order) bson.D {
	sort := bson.D{}
	for _, o := range orders {
		dir := 1
		if o.Descending() {
			dir = -1
		}
		sort = append(sort, bson.E{Key: mapField(o.Field), Value: dir})
	}
	return sort
}

func makeProjectionBSON(sel map[string]int) bson.M {
	proj := bson.M{}
	for k, v := range sel {
		proj[mapField(k)] = v
	}
	return proj
}

func mapField(field string) string {
	if field == model.FieldID {
		return "_id"
	}
	return field
}

func mapOp(op model.FilterOp) string {
	switch op {
	case model.OpEq:
		return "$eq"
	case model.OpNe:
		return "$ne"
	case model.OpGt:
		return "$gt"
	case model.OpGte:
		return "$gte"
	case model.OpLt:
		return "$lt"
	case model.OpLte:
		return "$lte"
	case model.OpIn:
		return "$in"
	case model.OpContains:
		return "$all"
	default:
		return "$eq" // Default to equality
	}
}

func toBSONDocument(doc model.Document) bson.M {
	out := bson.M{}
	for k, v := range doc {
		if k == model.FieldID {
			out["_id"] = v
			continue
		}
		out[k] = v
	}
	return out
}

func fromBSONDocument(raw bson.M) model.Document {
	doc := make(model.Document, len(raw))
	for k, v := range raw {
		if k == "_id" {
			doc[model.FieldID] = fromBSON(v)
			continue
		}
		doc[k] = fromBSON(v)
	}
	return doc
}

// fromBSON converts driver types into the plain values documents carry.
func fromBSON(v interface{}) interface{} {
	switch val := v.(type) {
	case bson.M:
		m := make(map[string]interface{}, len(val))
		for k, item := range val {
			m[k] = fromBSON(item)
		}
		return m
	case bson.D:
		m := make(map[string]interface{}, len(val))
		for _, e := range val {
			m[e.Key] = fromBSON(e.Value)
		}
		return m
	case bson.A:
		s := make([]interface{}, len(val))
		for i, item := range val {
			s[i] = fromBSON(item)
		}
		return s
	case primitive.DateTime:
		return val.Time().UTC()
	case primitive.ObjectID:
		return val.Hex()
	case primitive.Binary:
		return val.Data
	}
	return v
}
