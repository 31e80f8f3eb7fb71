// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package structs

// ResourceState collapses the two axes of a bound resource into one value:
// availability (connected, then available after the initial presence) and
// interest (the session has requested its roster).
type ResourceState int

const (
	// ResourceConnected is the state right after binding.
	ResourceConnected ResourceState = iota

	// ResourceConnectedInterested is a connected resource which requested
	// its roster but has not sent initial presence yet.
	ResourceConnectedInterested

	// ResourceAvailable is a resource which has sent available presence.
	ResourceAvailable

	// ResourceAvailableInterested is available and has requested the roster.
	ResourceAvailableInterested

	// ResourceUnavailable is a resource which has sent unavailable presence.
	// Interest cannot be gained from here.
	ResourceUnavailable
)

func (s ResourceState) String() string {
	switch s {
	case ResourceConnected:
		return "connected"
	case ResourceConnectedInterested:
		return "connected-interested"
	case ResourceAvailable:
		return "available"
	case ResourceAvailableInterested:
		return "available-interested"
	case ResourceUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// MakeAvailable promotes s to its available counterpart without dropping
// interest.
func MakeAvailable(s ResourceState) ResourceState {
	if s == ResourceConnectedInterested || s == ResourceAvailableInterested {
		return ResourceAvailableInterested
	}
	return ResourceAvailable
}

// MakeInterested promotes s to its interested counterpart. It is a no-op for
// ResourceUnavailable.
func MakeInterested(s ResourceState) ResourceState {
	switch s {
	case ResourceConnected, ResourceConnectedInterested:
		return ResourceConnectedInterested
	case ResourceAvailable, ResourceAvailableInterested:
		return ResourceAvailableInterested
	default:
		return s
	}
}

// IsInterested reports whether a resource in state s requested its roster.
func IsInterested(s ResourceState) bool {
	return s == ResourceConnectedInterested || s == ResourceAvailableInterested
}

// IsAvailable reports whether a resource in state s has sent available
// presence and has not become unavailable since.
func IsAvailable(s ResourceState) bool {
	return s == ResourceAvailable || s == ResourceAvailableInterested
}

// SessionState is the protocol state of a client session.
type SessionState int

const (
	SessionInitiated SessionState = iota
	SessionStarted
	SessionEncrypted
	SessionAuthenticated
	SessionEnded
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionInitiated:
		return "initiated"
	case SessionStarted:
		return "started"
	case SessionEncrypted:
		return "encrypted"
	case SessionAuthenticated:
		return "authenticated"
	case SessionEnded:
		return "ended"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}
