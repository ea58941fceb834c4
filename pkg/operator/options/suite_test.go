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

package options_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/tommcrojo/gdpr-erasure-orchestrator/pkg/operator/options"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestOptions(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Options")
}

var requiredEnv = map[string]string{
	"CURATED_BUCKET":     "curated-health-bucket",
	"GLUE_DATABASE":      "health_lake",
	"ATHENA_WORKGROUP":   "gdpr-erasure",
	"REDSHIFT_WORKGROUP": "gdpr-analytics",
	"REQUESTS_TABLE":     "erasure-requests",
}

var _ = BeforeEach(func() {
	for key, value := range requiredEnv {
		Expect(os.Setenv(key, value)).To(Succeed())
	}
})

var _ = AfterEach(func() {
	for key := range requiredEnv {
		Expect(os.Unsetenv(key)).To(Succeed())
	}
	Expect(os.Unsetenv("WORKER_COUNT")).To(Succeed())
})

var _ = Describe("Options", func() {
	It("should fill defaults from the environment", func() {
		opts := options.New()
		Expect(opts.Parse([]string{})).To(Succeed())
		Expect(opts.Validate()).To(Succeed())

		Expect(opts.CuratedBucket).To(Equal("curated-health-bucket"))
		Expect(opts.GlueTable).To(Equal("curated_health_records"))
		Expect(opts.RedshiftDatabase).To(Equal("healthcare_analytics"))
		Expect(opts.WorkerCount).To(Equal(4))
		Expect(opts.QueryTimeout).To(Equal(300 * time.Second))
		Expect(opts.DeleteTimeout).To(Equal(120 * time.Second))
		Expect(opts.PollInterval).To(Equal(2 * time.Second))
	})
	It("should let flags override environment values", func() {
		Expect(os.Setenv("WORKER_COUNT", "2")).To(Succeed())
		opts := options.New()
		Expect(opts.Parse([]string{"--worker-count", "8", "--debug"})).To(Succeed())

		Expect(opts.WorkerCount).To(Equal(8))
		Expect(opts.Debug).To(BeTrue())
	})
	It("should require the data plane coordinates", func() {
		for key := range requiredEnv {
			Expect(os.Unsetenv(key)).To(Succeed())
		}
		opts := options.New()
		Expect(opts.Parse([]string{})).To(Succeed())

		err := opts.Validate()
		Expect(err).To(HaveOccurred())
		for key := range requiredEnv {
			Expect(err.Error()).To(ContainSubstring(key))
		}
	})
	It("should reject a non-positive worker count", func() {
		opts := options.New()
		Expect(opts.Parse([]string{"--worker-count", "0"})).To(Succeed())
		Expect(opts.Validate()).ToNot(Succeed())
	})
	It("should round-trip through context", func() {
		opts := options.New()
		Expect(opts.Parse([]string{})).To(Succeed())
		ctx := opts.ToContext(context.Background())
		Expect(options.FromContext(ctx)).To(Equal(opts))
	})
})
