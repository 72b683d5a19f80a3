package eds

import "testing"

func newTestRecord(vendor, product, revision uint32, name string) *Record {
	return &Record{Vendor: vendor, Product: product, Revision: revision, Name: name, objs: make(map[uint32]ObjectDescriptor)}
}

func TestFindBestRevision(t *testing.T) {
	db := &Database{records: []*Record{
		newTestRecord(1, 2, 1, "a"),
		newTestRecord(1, 2, 3, "b"),
		newTestRecord(1, 2, 7, "c"),
	}}

	rec, ok := db.Find(1, 2, 5)
	if !ok || rec.Revision != 3 {
		t.Fatalf("find(V,P,5) = %+v, want revision 3", rec)
	}

	rec, ok = db.Find(1, 2, 6)
	if !ok || rec.Revision != 7 {
		t.Fatalf("find(V,P,6) = %+v, want revision 7", rec)
	}
}

func TestFindExactMatchShortCircuits(t *testing.T) {
	db := &Database{records: []*Record{
		newTestRecord(1, 2, 1, "a"),
		newTestRecord(1, 2, 3, "b"),
	}}
	rec, ok := db.Find(1, 2, 3)
	if !ok || rec.Revision != 3 {
		t.Fatalf("expected exact match on revision 3, got %+v", rec)
	}
}

func TestFindWildcards(t *testing.T) {
	db := &Database{records: []*Record{
		newTestRecord(1, 2, 1, "a"),
		newTestRecord(9, 9, 9, "z"),
	}}
	rec, ok := db.Find(0, 0, 0)
	if !ok || rec.Name != "a" {
		t.Fatalf("wildcard find should return first record, got %+v", rec)
	}
}

func TestFindByNameLongestPrefix(t *testing.T) {
	db := &Database{records: []*Record{
		newTestRecord(1, 1, 1, "acme"),
		newTestRecord(1, 2, 1, "acme-pump"),
	}}
	rec, ok := db.FindByName("acme-pump-5")
	if !ok || rec.Name != "acme-pump" {
		t.Fatalf("expected acme-pump, got %+v", rec)
	}
}

func TestRecordPutLastWriterWins(t *testing.T) {
	rec := newRecord()
	rec.put(0x2000, 0, ObjectDescriptor{Name: "first"})
	rec.put(0x2000, 0, ObjectDescriptor{Name: "second"})
	desc, ok := rec.Find(0x2000, 0)
	if !ok || desc.Name != "second" {
		t.Fatalf("expected last-writer-wins, got %+v", desc)
	}
	count := 0
	rec.Objects(func(index uint16, sub uint8, desc ObjectDescriptor) { count++ })
	if count != 1 {
		t.Fatalf("duplicate key should not duplicate ordered entries, got %d", count)
	}
}

func TestRecordOrderedIteration(t *testing.T) {
	rec := newRecord()
	rec.put(0x2001, 0, ObjectDescriptor{Name: "b"})
	rec.put(0x2000, 0, ObjectDescriptor{Name: "a"})
	rec.put(0x2000, 1, ObjectDescriptor{Name: "a.1"})

	var order []string
	rec.Objects(func(index uint16, sub uint8, desc ObjectDescriptor) {
		order = append(order, desc.Name)
	})
	want := []string{"a", "a.1", "b"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}
