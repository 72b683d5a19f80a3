package eds

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"
)

var (
	matchIndexRegExp    = regexp.MustCompile(`^[0-9A-Fa-f]{4}$`)
	matchSubIndexRegExp = regexp.MustCompile(`^([0-9A-Fa-f]{4})[sS]ub([0-9A-Fa-f]+)$`)
)

// ErrMissingIdentity is returned when a file lacks one of the four required
// deviceinfo keys.
var ErrMissingIdentity = fmt.Errorf("eds: missing required deviceinfo key")

// Parse reads one .eds file's contents (already an INI document) and
// returns the corresponding Record. It rejects a file outright if any of
// the four required deviceinfo keys is missing; otherwise unknown sections
// and keys are ignored.
func Parse(data []byte) (*Record, error) {
	doc, err := ini.LoadSources(ini.LoadOptions{Insensitive: true}, data)
	if err != nil {
		return nil, err
	}

	deviceInfo, err := doc.GetSection("DeviceInfo")
	if err != nil {
		return nil, ErrMissingIdentity
	}
	vendor, errV := deviceInfo.Key("VendorNumber").Uint64()
	product, errP := deviceInfo.Key("ProductNumber").Uint64()
	revision, errR := deviceInfo.Key("RevisionNumber").Uint64()
	name := strings.TrimSpace(deviceInfo.Key("ProductName").String())
	if errV != nil || errP != nil || errR != nil || name == "" {
		return nil, ErrMissingIdentity
	}

	rec := newRecord()
	rec.Vendor = uint32(vendor)
	rec.Product = uint32(product)
	rec.Revision = uint32(revision)
	rec.Name = name

	for _, section := range doc.Sections() {
		sectionName := section.Name()

		if matchIndexRegExp.MatchString(sectionName) {
			idx, err := strconv.ParseUint(sectionName, 16, 16)
			if err != nil {
				continue
			}
			desc, ok := decodeSection(section)
			if ok {
				rec.put(uint16(idx), 0, desc)
			}
			continue
		}

		if m := matchSubIndexRegExp.FindStringSubmatch(sectionName); m != nil {
			idx, err1 := strconv.ParseUint(m[1], 16, 16)
			sub, err2 := strconv.ParseUint(m[2], 16, 8)
			if err1 != nil || err2 != nil {
				continue
			}
			desc, ok := decodeSection(section)
			if ok {
				rec.put(uint16(idx), uint8(sub), desc)
			}
		}
	}

	return rec, nil
}

// decodeSection builds an ObjectDescriptor from one index or sub-index
// section. DataType is required; a section lacking it is dropped rather
// than failing the whole file, matching load_all's per-file isolation.
func decodeSection(section *ini.Section) (ObjectDescriptor, bool) {
	dataType, err := section.Key("DataType").Uint64()
	if err != nil {
		return ObjectDescriptor{}, false
	}
	accessType := strings.ToLower(strings.TrimSpace(section.Key("AccessType").String()))
	if accessType == "" {
		accessType = "ro"
	}
	return ObjectDescriptor{
		DataType:     uint16(dataType),
		Access:       decodeAccess(accessType),
		Name:         section.Key("ParameterName").String(),
		DefaultValue: section.Key("DefaultValue").String(),
		LowLimit:     section.Key("LowLimit").String(),
		HighLimit:    section.Key("HighLimit").String(),
		Unit:         section.Key("X-Unit").String(),
		Scaling:      section.Key("X-Scaling").String(),
	}, true
}
