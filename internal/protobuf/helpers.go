// Copyright Project Flowplane Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package protobuf provides helpers for working with protobuf types.
package protobuf

import (
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// UInt32 wraps a uint32 value.
func UInt32(val uint32) *wrapperspb.UInt32Value {
	return wrapperspb.UInt32(val)
}

// UInt32PtrOrNil wraps the pointed-to value, or returns nil.
func UInt32PtrOrNil(val *uint32) *wrapperspb.UInt32Value {
	if val == nil {
		return nil
	}
	return wrapperspb.UInt32(*val)
}

// UInt64PtrOrNil wraps the pointed-to value, or returns nil.
func UInt64PtrOrNil(val *uint64) *wrapperspb.UInt64Value {
	if val == nil {
		return nil
	}
	return wrapperspb.UInt64(*val)
}

// Bool wraps a bool value.
func Bool(val bool) *wrapperspb.BoolValue {
	return wrapperspb.Bool(val)
}

// Duration converts a time.Duration to a wrapped duration.
func Duration(d time.Duration) *durationpb.Duration {
	return durationpb.New(d)
}

// SecondsOrNil converts an optional whole-second count to a duration.
func SecondsOrNil(seconds *uint32) *durationpb.Duration {
	if seconds == nil {
		return nil
	}
	return durationpb.New(time.Duration(*seconds) * time.Second)
}

// MustMarshalAny marshals a protobuf into an any.Any type, panicking
// if that operation fails. Marshaling is deterministic so repeated
// compilations of equal messages produce identical bytes, which the
// snapshot cache relies on for change detection.
func MustMarshalAny(pb proto.Message) *anypb.Any {
	a := new(anypb.Any)
	if err := anypb.MarshalFrom(a, pb, proto.MarshalOptions{Deterministic: true}); err != nil {
		panic(err.Error())
	}

	return a
}
