/*
 * Copyright 2025 Olake By Datazip
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package types

type MessageType string

const (
	ConnectionStatusMessage MessageType = "CONNECTION_STATUS"
	StateMessage            MessageType = "STATE"
	RecordMessage           MessageType = "RECORD"
	SpecMessage             MessageType = "SPEC"
	DecisionMessage         MessageType = "DECISION"
)

type ConnectionStatus string

const (
	ConnectionSucceed ConnectionStatus = "SUCCEEDED"
	ConnectionFailed  ConnectionStatus = "FAILED"
)

type StatusRow struct {
	Status  ConnectionStatus `json:"status"`
	Message string           `json:"message,omitempty"`
}

// Message is a single document written by the CLI on stdout.
type Message struct {
	Type             MessageType          `json:"type"`
	ConnectionStatus *StatusRow           `json:"connectionStatus,omitempty"`
	Spec             map[string]any       `json:"spec,omitempty"`
	Offset           *Offset              `json:"offset,omitempty"`
	Progress         *IncrementalProgress `json:"incrementalSnapshot,omitempty"`
	Record           *ChangeEvent         `json:"record,omitempty"`
	Decision         any                  `json:"decision,omitempty"`
}
