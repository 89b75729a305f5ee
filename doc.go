// Package objcore provides an embedded, single-process object store core:
// version-checked row accessors over copy-on-write cluster trees, a typed
// link/backlink graph with cascading deletion, column-embedded dictionaries,
// and a replication instruction stream.
//
// # Quick Start
//
//	sch := schema.New()
//	person := sch.AddTable("person")
//	name, _ := person.AddColumn("name", schema.TypeString, 0)
//	age, _ := person.AddColumn("age", schema.TypeInt, schema.Nullable)
//
//	db := objcore.Open(sch)
//	tx := db.BeginWrite()
//	defer tx.Rollback()
//
//	people, _ := tx.Group().TableByName("person")
//	o, _ := people.CreateObject()
//	_ = obj.Set(o, name, "ada")
//	_ = obj.Set(o, age, int64(36))
//	_ = tx.Commit()
//
// # Accessors Are Views
//
// An Obj or Dictionary never owns data. It caches a position in the backing
// cluster tree together with a version stamp, and revalidates on every
// operation. Accessors from an older snapshot keep working; they observe
// the current state after their next operation, and report
// objerr.ErrStaleAccessor once their row is gone.
//
// # Replication
//
// Every mutation emits exactly one instruction to the configured sink. The
// localsink, s3sink, and miniosink packages provide file-, S3-, and
// MinIO-backed consumers; replication/checkpoint tracks replica progress in
// DynamoDB.
package objcore
