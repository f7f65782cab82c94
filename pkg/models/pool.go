package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Pool identifies one liquidity pool the engine watches
type Pool struct {
	ChainID int64  `json:"chainId"`
	Token0  string `json:"token0"`
	Token1  string `json:"token1"`
	FeeTier int    `json:"feeTier"`
	// Address is the on-chain pool address when known
	Address string `json:"address,omitempty"`
}

// ID is the storage key for the pool. Pools without a known address get a
// stable synthetic id built from the pair and fee tier.
func (p Pool) ID() string {
	if p.Address != "" {
		return NormalizePoolID(p.Address)
	}
	return NormalizePoolID(fmt.Sprintf("%s/%s/%d", p.Token0, p.Token1, p.FeeTier))
}

func (p Pool) String() string {
	s := fmt.Sprintf("%d:%s/%s/%d", p.ChainID, p.Token0, p.Token1, p.FeeTier)
	if p.Address != "" {
		s += "@" + p.Address
	}
	return s
}

// NormalizePoolID trims and lower-cases a pool identifier
func NormalizePoolID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// ParsePool parses "chain:TOKEN0/TOKEN1/FEE" with an optional "@address" suffix
func ParsePool(s string) (Pool, error) {
	s = strings.TrimSpace(s)

	chainPart, rest, ok := strings.Cut(s, ":")
	if !ok {
		return Pool{}, fmt.Errorf("pool %q: missing chain prefix", s)
	}
	chainID, err := strconv.ParseInt(strings.TrimSpace(chainPart), 10, 64)
	if err != nil || chainID <= 0 {
		return Pool{}, fmt.Errorf("pool %q: invalid chain id", s)
	}

	var address string
	if pair, addr, found := strings.Cut(rest, "@"); found {
		rest, address = pair, strings.TrimSpace(addr)
	}

	parts := strings.Split(rest, "/")
	if len(parts) != 3 {
		return Pool{}, fmt.Errorf("pool %q: expected TOKEN0/TOKEN1/FEE", s)
	}
	fee, err := strconv.Atoi(strings.TrimSpace(parts[2]))
	if err != nil || fee < 0 {
		return Pool{}, fmt.Errorf("pool %q: invalid fee tier", s)
	}

	token0, token1 := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	if token0 == "" || token1 == "" {
		return Pool{}, fmt.Errorf("pool %q: empty token symbol", s)
	}

	return Pool{
		ChainID: chainID,
		Token0:  token0,
		Token1:  token1,
		FeeTier: fee,
		Address: address,
	}, nil
}
