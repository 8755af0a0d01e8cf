package classify

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"boardhealth/internal/status"
)

// Strategy names accepted by New.
const (
	NameThreshold    = "threshold"
	NameBanded       = "banded"
	NameDistribution = "distribution"
)

const DefaultCutoff = 16.0

var ErrUnknownClassifier = errors.New("unknown classifier")

// Classifier maps a numeric reading onto a status label.
type Classifier interface {
	Classify(value float64) status.Status
	Name() string
}

// New selects a classifier by configuration name.
func New(name string, cutoff float64) (Classifier, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case NameThreshold, "":
		return Threshold{Cutoff: cutoff}, nil
	case NameBanded:
		return DefaultBanded(), nil
	case NameDistribution:
		return DefaultDistribution(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownClassifier, name)
	}
}

// Threshold fails every reading below Cutoff.
type Threshold struct {
	Cutoff float64
}

func (t Threshold) Classify(value float64) status.Status {
	if value < t.Cutoff {
		return status.Fail
	}
	return status.Pass
}

func (Threshold) Name() string { return NameThreshold }

// Banded splits readings into Inactive / Pending / Active at Low and High.
type Banded struct {
	Low  float64
	High float64
}

func DefaultBanded() Banded { return Banded{Low: 20, High: 50} }

func (b Banded) Classify(value float64) status.Status {
	switch {
	case value < b.Low:
		return status.Inactive
	case value < b.High:
		return status.Pending
	default:
		return status.Active
	}
}

func (Banded) Name() string { return NameBanded }

// Distribution spreads readings over Labels with a sine hash. It carries no
// meaning about the reading and only exists to populate dashboards before a
// real rule is agreed on.
type Distribution struct {
	Labels []status.Status
}

func DefaultDistribution() Distribution {
	return Distribution{Labels: []status.Status{status.Inactive, status.Active, status.Pending, status.Standby}}
}

func (d Distribution) Classify(value float64) status.Status {
	if len(d.Labels) == 0 {
		return status.Unknown
	}
	idx := int64(math.Floor(math.Abs(math.Sin(value) * 1000)))
	return d.Labels[idx%int64(len(d.Labels))]
}

func (Distribution) Name() string { return NameDistribution }
