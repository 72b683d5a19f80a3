package eds

import "testing"

const sampleEds = `
[DeviceInfo]
VendorNumber=0x1A2
ProductNumber=7
RevisionNumber=2
ProductName=acme-pump

[1018sub1]
ParameterName=Vendor ID
DataType=0x07
AccessType=ro

[1018sub2]
ParameterName=Product Code
DataType=0x07
AccessType=ro

[2000]
ParameterName=Setpoint
DataType=0x08
AccessType=rw
DefaultValue=0
LowLimit=0
HighLimit=1000
`

func TestParseIdentityAndObjects(t *testing.T) {
	rec, err := Parse([]byte(sampleEds))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if rec.Vendor != 0x1A2 || rec.Product != 7 || rec.Revision != 2 {
		t.Fatalf("identity mismatch: %+v", rec)
	}
	if rec.Name != "acme-pump" {
		t.Fatalf("name = %q", rec.Name)
	}

	desc, ok := rec.Find(0x2000, 0)
	if !ok {
		t.Fatal("expected 0x2000 to be present")
	}
	if desc.Access != AccessRW || desc.Name != "Setpoint" {
		t.Fatalf("unexpected descriptor: %+v", desc)
	}

	sub1, ok := rec.Find(0x1018, 1)
	if !ok || sub1.Access != AccessR {
		t.Fatalf("unexpected sub1: %+v", sub1)
	}
}

func TestParseRejectsMissingIdentity(t *testing.T) {
	_, err := Parse([]byte("[2000]\nDataType=0x08\n"))
	if err != ErrMissingIdentity {
		t.Fatalf("expected ErrMissingIdentity, got %v", err)
	}
}

func TestParseSkipsSectionMissingDataType(t *testing.T) {
	doc := `
[DeviceInfo]
VendorNumber=1
ProductNumber=1
RevisionNumber=1
ProductName=x

[2000]
ParameterName=no type
`
	rec, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if _, ok := rec.Find(0x2000, 0); ok {
		t.Fatal("expected section without DataType to be dropped")
	}
}
