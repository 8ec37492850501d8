package domain

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Canonicalize sorts every collection so equal content serialises identically.
func (s *Snapshot) Canonicalize() {
	sort.SliceStable(s.Series, func(i, j int) bool {
		return lessKey(s.Series[i].Key(), s.Series[j].Key())
	})
	for _, series := range s.Series {
		sort.SliceStable(series.Points, func(i, j int) bool {
			return series.Points[i].Period < series.Points[j].Period
		})
	}
	sort.SliceStable(s.Offers, func(i, j int) bool {
		return s.Offers[i].OfferID < s.Offers[j].OfferID
	})
	sort.SliceStable(s.Suppliers, func(i, j int) bool {
		return s.Suppliers[i].SupplierID < s.Suppliers[j].SupplierID
	})
	sort.SliceStable(s.Costs, func(i, j int) bool {
		return lessKey(s.Costs[i].Key(), s.Costs[j].Key())
	})
	sort.SliceStable(s.Positions, func(i, j int) bool {
		a := SeriesKey{ProductID: s.Positions[i].ProductID, LocationID: s.Positions[i].LocationID}
		b := SeriesKey{ProductID: s.Positions[j].ProductID, LocationID: s.Positions[j].LocationID}
		return lessKey(a, b)
	})
	sort.SliceStable(s.Shipping, func(i, j int) bool {
		if s.Shipping[i].SupplierID != s.Shipping[j].SupplierID {
			return s.Shipping[i].SupplierID < s.Shipping[j].SupplierID
		}
		return s.Shipping[i].LocationID < s.Shipping[j].LocationID
	})
}

// ContentHash hashes the canonical content, ignoring the id and capture time.
func (s *Snapshot) ContentHash() (string, error) {
	c := *s
	c.ID = ""
	c.CapturedAt = time.Time{}
	payload, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	sum := sha1.Sum(payload)
	return hex.EncodeToString(sum[:]), nil
}

// DropStaleOffers removes offers older than ttl at asOf and returns how many were dropped.
func (s *Snapshot) DropStaleOffers(asOf time.Time, ttl time.Duration) int {
	kept := s.Offers[:0]
	dropped := 0
	for _, o := range s.Offers {
		if o.Stale(asOf, ttl) {
			dropped++
			continue
		}
		kept = append(kept, o)
	}
	s.Offers = kept
	return dropped
}

func lessKey(a, b SeriesKey) bool {
	if a.ProductID != b.ProductID {
		return a.ProductID < b.ProductID
	}
	return a.LocationID < b.LocationID
}
