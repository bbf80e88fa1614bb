package service

import (
	"github.com/smartcity/ecoflow/internal/domain"
)

// Store is re-exported from domain for convenience
type Store = domain.Store

// CongestionPredictor is re-exported from domain for convenience
type CongestionPredictor = domain.CongestionPredictor
