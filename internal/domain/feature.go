package domain

import (
	"fmt"
	"strings"
)

// Feature identifies one column of the model feature vector.
// The iota order is the feature order used by scoring and attribution.
type Feature int

const (
	FeatureAmount Feature = iota
	FeatureType
	FeatureLocation
	FeatureChannel
	FeatureDeviceID
	FeatureMerchantID
	FeatureCustomerAge
	FeatureCustomerOccupation
	FeatureDuration
	FeatureLoginAttempts
	FeatureAccountBalance
	FeatureTimeDiff

	// NumFeatures is the width of every feature vector.
	NumFeatures = int(FeatureTimeDiff) + 1
)

var featureNames = [NumFeatures]string{
	"TransactionAmount",
	"TransactionType",
	"Location",
	"Channel",
	"DeviceID",
	"MerchantID",
	"CustomerAge",
	"CustomerOccupation",
	"TransactionDuration",
	"LoginAttempts",
	"AccountBalance",
	"TimeDiff",
}

// AllFeatures returns the features in vector order.
func AllFeatures() []Feature {
	out := make([]Feature, NumFeatures)
	for i := range out {
		out[i] = Feature(i)
	}
	return out
}

// String returns the canonical column name of the feature.
func (f Feature) String() string {
	if !f.Valid() {
		return fmt.Sprintf("Feature(%d)", int(f))
	}
	return featureNames[f]
}

// Valid reports whether f is one of the known features.
func (f Feature) Valid() bool {
	return f >= 0 && int(f) < NumFeatures
}

// Categorical reports whether the feature is label-encoded from a string column.
func (f Feature) Categorical() bool {
	switch f {
	case FeatureType, FeatureLocation, FeatureChannel, FeatureDeviceID, FeatureMerchantID, FeatureCustomerOccupation:
		return true
	}
	return false
}

// ParseFeature maps a column name back to its Feature, ignoring case.
func ParseFeature(name string) (Feature, error) {
	for i, n := range featureNames {
		if strings.EqualFold(n, name) {
			return Feature(i), nil
		}
	}
	return -1, fmt.Errorf("unknown feature %q", name)
}

// MarshalText encodes the feature by name so JSON payloads stay readable.
func (f Feature) MarshalText() ([]byte, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("invalid feature %d", int(f))
	}
	return []byte(f.String()), nil
}

// UnmarshalText decodes a feature name.
func (f *Feature) UnmarshalText(b []byte) error {
	parsed, err := ParseFeature(string(b))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
