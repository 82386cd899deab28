package repl

import (
	"bytes"
	"fmt"

	"github.com/Mlorras/lightwave/internal/dirent"
)

// Legacy names still sent by older partners.
const (
	attrLegacySecurityDescriptor = "vmwSecurityDescriptor"
	attrLegacyOrganizationGUID   = "vmwOrganizationGuid"
	ocLegacyContainer            = "vmwContainer"
	ocContainer                  = "container"
)

// patchLegacyData rewrites data from older partners on an entry being added:
// vmwSecurityDescriptor becomes nTSecurityDescriptor, the vmwContainer
// object class becomes container, and vmwOrganizationGuid is dropped.
func patchLegacyData(e *dirent.Entry) error {
	if a, ok := e.Attrs.Remove(attrLegacySecurityDescriptor); ok {
		desc, err := e.Schema.Descriptor(dirent.AttrSecurityDescriptor)
		if err != nil {
			return fmt.Errorf("patch %s: %w", attrLegacySecurityDescriptor, err)
		}
		a.Type = desc.Name
		a.Desc = desc
		e.Attrs.Put(a)
	}

	if oc, ok := e.Attrs.Get(dirent.AttrObjectClass); ok {
		for i, v := range oc.Values {
			if bytes.EqualFold(v, []byte(ocLegacyContainer)) {
				oc.Values[i] = []byte(ocContainer)
				break
			}
		}
	}

	e.Attrs.Remove(attrLegacyOrganizationGUID)
	return nil
}
