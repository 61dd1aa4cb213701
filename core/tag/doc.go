// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package tag holds the value types shared by the tag ingress, the canonical
// tag store and the batch publisher.
package tag
