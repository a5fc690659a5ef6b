// Copyright 2023 The Cockroach Authors
//
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
//
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"bytes"
	"encoding/json"

	"github.com/wideseries/tscore/internal/model"
)

// marshalFailedEvent renders evt as the failed-events log record:
// name, timestamp, value, tags, ttl, in that order, with tags emitted
// in the event's original insertion order rather than sorted - an
// encoding/json map would reorder them alphabetically, which loses the
// order a downstream recovery tool replays them in.
func marshalFailedEvent(evt model.DataPointEvent, ttl int) ([]byte, error) {
	name, err := json.Marshal(evt.Metric)
	if err != nil {
		return nil, err
	}
	value, err := json.Marshal(evt.Point.Value)
	if err != nil {
		return nil, err
	}

	var tags bytes.Buffer
	tags.WriteByte('{')
	for i, tag := range evt.Tags {
		if i > 0 {
			tags.WriteByte(',')
		}
		k, err := json.Marshal(tag.Name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(tag.Value)
		if err != nil {
			return nil, err
		}
		tags.Write(k)
		tags.WriteByte(':')
		tags.Write(v)
	}
	tags.WriteByte('}')

	var out bytes.Buffer
	out.WriteString(`{"name":`)
	out.Write(name)
	out.WriteString(`,"timestamp":`)
	out.WriteString(jsonInt64(evt.Point.TimestampMillis))
	out.WriteString(`,"value":`)
	out.Write(value)
	out.WriteString(`,"tags":`)
	out.Write(tags.Bytes())
	out.WriteString(`,"ttl":`)
	out.WriteString(jsonInt64(int64(ttl)))
	out.WriteByte('}')
	return out.Bytes(), nil
}

func jsonInt64(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
