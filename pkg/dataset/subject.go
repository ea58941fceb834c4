/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package dataset

import (
	"regexp"

	erasureerrors "github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/errors"
)

// subjectHashPattern is the wire format of a pseudonymized patient identifier:
// a lowercase hex SHA-256 digest. It is also the only defense before the hash
// is embedded in a query predicate, since CTAS takes no bind parameters.
var subjectHashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// ValidateSubjectHash rejects anything that is not a 64-character lowercase
// hex string. Malformed input is fatal, never retried.
func ValidateSubjectHash(patientIDHash string) error {
	if !subjectHashPattern.MatchString(patientIDHash) {
		return erasureerrors.New(erasureerrors.KindInvalidInput, "patient_id_hash %q is not a 64-character lowercase hex digest", truncateHash(patientIDHash))
	}
	return nil
}

// truncateHash keeps log and error text bounded when handed garbage input.
func truncateHash(s string) string {
	if len(s) > 70 {
		return s[:70] + "..."
	}
	return s
}
