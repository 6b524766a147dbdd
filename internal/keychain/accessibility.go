package keychain

import "fmt"

// Accessibility controls when a stored entry may be read, tied to device
// lock state and whether the entry may leave this device.
type Accessibility int

const (
	// AccessibleUnspecified is the zero value: no filter on reads, the
	// default class on first insert, no change on update.
	AccessibleUnspecified Accessibility = iota
	AccessibleWhenUnlocked
	AccessibleAfterFirstUnlock
	AccessibleAlways
	AccessibleWhenPasscodeSetThisDeviceOnly
	AccessibleWhenUnlockedThisDeviceOnly
	AccessibleAfterFirstUnlockThisDeviceOnly
	AccessibleAlwaysThisDeviceOnly
)

// DefaultAccessibility is applied on first insert when the caller supplies none.
const DefaultAccessibility = AccessibleWhenUnlocked

// Accessibilities lists every concrete class.
var Accessibilities = []Accessibility{
	AccessibleWhenUnlocked,
	AccessibleAfterFirstUnlock,
	AccessibleAlways,
	AccessibleWhenPasscodeSetThisDeviceOnly,
	AccessibleWhenUnlockedThisDeviceOnly,
	AccessibleAfterFirstUnlockThisDeviceOnly,
	AccessibleAlwaysThisDeviceOnly,
}

// Attribute values as the platform stores them in kSecAttrAccessible.
var attrValues = map[Accessibility]string{
	AccessibleWhenUnlocked:                   "ak",
	AccessibleAfterFirstUnlock:               "ck",
	AccessibleAlways:                         "dk",
	AccessibleWhenPasscodeSetThisDeviceOnly:  "akpu",
	AccessibleWhenUnlockedThisDeviceOnly:     "aku",
	AccessibleAfterFirstUnlockThisDeviceOnly: "cku",
	AccessibleAlwaysThisDeviceOnly:           "dku",
}

var names = map[Accessibility]string{
	AccessibleWhenUnlocked:                   "when-unlocked",
	AccessibleAfterFirstUnlock:               "after-first-unlock",
	AccessibleAlways:                         "always",
	AccessibleWhenPasscodeSetThisDeviceOnly:  "when-passcode-set-this-device-only",
	AccessibleWhenUnlockedThisDeviceOnly:     "when-unlocked-this-device-only",
	AccessibleAfterFirstUnlockThisDeviceOnly: "after-first-unlock-this-device-only",
	AccessibleAlwaysThisDeviceOnly:           "always-this-device-only",
}

// AttrValue returns the raw platform attribute string, or "" if unspecified.
func (a Accessibility) AttrValue() string {
	return attrValues[a]
}

func (a Accessibility) String() string {
	if n, ok := names[a]; ok {
		return n
	}
	return "unspecified"
}

// ThisDeviceOnly reports whether entries of this class never leave the device.
func (a Accessibility) ThisDeviceOnly() bool {
	switch a {
	case AccessibleWhenPasscodeSetThisDeviceOnly,
		AccessibleWhenUnlockedThisDeviceOnly,
		AccessibleAfterFirstUnlockThisDeviceOnly,
		AccessibleAlwaysThisDeviceOnly:
		return true
	}
	return false
}

// AccessibilityForAttrValue maps a raw attribute value back to its class.
func AccessibilityForAttrValue(v string) (Accessibility, bool) {
	for a, s := range attrValues {
		if s == v {
			return a, true
		}
	}
	return AccessibleUnspecified, false
}

// ParseAccessibility accepts either the hyphenated name or the raw
// attribute value.
func ParseAccessibility(s string) (Accessibility, error) {
	for a, n := range names {
		if n == s {
			return a, nil
		}
	}
	if a, ok := AccessibilityForAttrValue(s); ok {
		return a, nil
	}
	return AccessibleUnspecified, fmt.Errorf("unknown accessibility %q", s)
}
