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

package utils

import "errors"

const (
	SSLModeRequire    = "require"
	SSLModeDisable    = "disable"
	SSLModeVerifyCA   = "verify-ca"
	SSLModeVerifyFull = "verify-full"

	Unknown = ""
)

// SSLConfig is the encryption setup of a SQL Server connection
type SSLConfig struct {
	Mode string `json:"mode,omitempty" yaml:"mode,omitempty" validate:"omitempty,oneof=require disable verify-ca verify-full"`
	// path of the PEM encoded CA certificate the server certificate is checked against
	ServerCA string `json:"server_ca,omitempty" yaml:"server_ca,omitempty"`
	// host name expected in the server certificate, defaults to the connection host
	HostNameInCertificate string `json:"host_name_in_certificate,omitempty" yaml:"host_name_in_certificate,omitempty"`
}

// Validate returns err if the ssl configuration is invalid
func (sc *SSLConfig) Validate() error {
	if sc == nil {
		return errors.New("'ssl' config is required")
	}

	if sc.Mode == Unknown {
		return errors.New("'ssl.mode' is required parameter")
	}

	if (sc.Mode == SSLModeVerifyCA || sc.Mode == SSLModeVerifyFull) && sc.ServerCA == "" {
		return errors.New("'ssl.server_ca' is required parameter")
	}

	return Validate(sc)
}
