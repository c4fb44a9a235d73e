package sender

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"regexp"
	"strings"

	"github.com/dxb134111/roc-droid-modified/internal/logging"
)

var dottedQuad = regexp.MustCompile(`^\d{1,3}(\.\d{1,3}){3}$`)

// Destination is the network endpoint a session streams to. Host is always
// an address, never an unresolved hostname.
type Destination struct {
	Input   string // trimmed user input
	Host    string
	Literal bool // Input was already a dotted-quad address
}

func (d Destination) String() string {
	return d.Host
}

// LookupFunc resolves a hostname to its addresses.
type LookupFunc func(ctx context.Context, host string) ([]string, error)

// AddressResolver turns destination input into a Destination without
// blocking the caller.
type AddressResolver interface {
	// ResolveAsync validates input and, unless it is blank, starts a
	// resolution whose outcome is passed to done on another goroutine.
	ResolveAsync(ctx context.Context, input string, done func(Destination, error)) error
}

// Resolver is the default AddressResolver. It never caches, so a network
// change between attempts is picked up by the next one.
type Resolver struct {
	lookup LookupFunc
}

func NewResolver(lookup LookupFunc) *Resolver {
	if lookup == nil {
		lookup = net.DefaultResolver.LookupHost
	}
	return &Resolver{lookup: lookup}
}

// IsLiteral reports whether input looks like a dotted-quad IPv4 address.
// Octet ranges are not checked.
func IsLiteral(input string) bool {
	return dottedQuad.MatchString(input)
}

func (r *Resolver) ResolveAsync(ctx context.Context, input string, done func(Destination, error)) error {
	input = strings.TrimSpace(input)
	if input == "" {
		return ErrEmptyInput
	}
	go func() {
		done(r.Resolve(ctx, input))
	}()
	return nil
}

// Resolve performs a single blocking resolution of input. It logs through
// the logger carried by ctx, if any.
func (r *Resolver) Resolve(ctx context.Context, input string) (Destination, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return Destination{}, ErrEmptyInput
	}
	if IsLiteral(input) {
		return Destination{Input: input, Host: input, Literal: true}, nil
	}

	log := logging.FromContext(ctx)
	log.Debug("resolving domain", "host", input)
	addrs, err := r.lookup(ctx, input)
	if err != nil {
		if ctx.Err() != nil {
			return Destination{}, ctx.Err()
		}
		log.Warn("domain resolution failed", "host", input, logging.KeyError, err)
		return Destination{}, fmt.Errorf("%w: %s: %v", ErrHostNotFound, input, err)
	}

	host, ok := pickAddress(addrs)
	if !ok {
		return Destination{}, fmt.Errorf("%w: %s: no usable address", ErrHostNotFound, input)
	}
	log.Debug("domain resolved", "host", input, "address", host)
	return Destination{Input: input, Host: host}, nil
}

// pickAddress prefers the first IPv4 address and falls back to the first
// parseable one.
func pickAddress(addrs []string) (string, bool) {
	var fallback string
	for _, a := range addrs {
		ip, err := netip.ParseAddr(a)
		if err != nil {
			continue
		}
		if ip.Is4() || ip.Is4In6() {
			return ip.Unmap().String(), true
		}
		if fallback == "" {
			fallback = ip.String()
		}
	}
	return fallback, fallback != ""
}
