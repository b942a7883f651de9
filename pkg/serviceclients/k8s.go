package serviceclients

import (
	"context"
	"errors"
	"fmt"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	coreerrors "github.com/agilecore/orchestrator-core/internal/errors"
	"github.com/agilecore/orchestrator-core/internal/resilience"
	"github.com/agilecore/orchestrator-core/internal/telemetry"
)

// KubernetesClient wraps the batch/v1 CronJob API behind the same
// breaker/retry discipline as the HTTP service clients (spec.md §4.C1:
// "the Kubernetes control plane" is one of the five downstream
// collaborators C1 protects).
type KubernetesClient struct {
	clientset *kubernetes.Clientset
	namespace string
	breaker   *resilience.Breaker
	retry     resilience.RetryConfig
	logger    telemetry.Logger
}

// NewKubernetesClient builds an in-cluster client. NewKubernetesClientFromConfig
// exists for tests that supply a fake/rest.Config.
func NewKubernetesClient(namespace string, logger telemetry.Logger) (*KubernetesClient, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		return nil, fmt.Errorf("k8s in-cluster config: %w", err)
	}
	return NewKubernetesClientFromConfig(cfg, namespace, logger)
}

func NewKubernetesClientFromConfig(cfg *rest.Config, namespace string, logger telemetry.Logger) (*KubernetesClient, error) {
	cs, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("k8s clientset: %w", err)
	}
	cbCfg := resilience.DefaultConfig("kubernetes")
	return &KubernetesClient{
		clientset: cs,
		namespace: namespace,
		breaker:   resilience.New(cbCfg),
		retry:     resilience.DefaultRetryConfig(),
		logger:    logger.WithComponent("serviceclients/kubernetes"),
	}, nil
}

// CronJobManifest renders the fields C13 needs to deploy a scheduled job.
type CronJobManifest struct {
	Name     string
	Schedule string
	Project  string
	Sprint   string
}

// CronJobExists checks whether a named CronJob is present (used by C11's
// self-heal path, spec.md §4.C11 step 2c).
func (k *KubernetesClient) CronJobExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := k.breaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.Retry(ctx, k.retry, func(ctx context.Context) error {
			_, err := k.clientset.BatchV1().CronJobs(k.namespace).Get(ctx, name, metav1.GetOptions{})
			if err != nil {
				if apierrors.IsNotFound(err) {
					exists = false
					return nil
				}
				return classifyK8sErr(err)
			}
			exists = true
			return nil
		})
	})
	if err != nil {
		return false, fmt.Errorf("k8s.CronJobExists(%s): %w", name, err)
	}
	return exists, nil
}

// CreateCronJob deploys a manifest rendered from spec.md §4.C13's
// "Create CronJob" action.
func (k *KubernetesClient) CreateCronJob(ctx context.Context, m CronJobManifest) error {
	job := &batchv1.CronJob{
		ObjectMeta: metav1.ObjectMeta{
			Name:      m.Name,
			Namespace: k.namespace,
			Labels: map[string]string{
				"app.kubernetes.io/managed-by": "orchestrator-core",
				"orchestrator.io/project":      m.Project,
				"orchestrator.io/sprint":       m.Sprint,
			},
		},
		Spec: batchv1.CronJobSpec{
			Schedule: m.Schedule,
			JobTemplate: batchv1.JobTemplateSpec{
				Spec: batchv1.JobSpec{
					Template: dailyScrumPodTemplate(m),
				},
			},
		},
	}

	return k.breaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.Retry(ctx, k.retry, func(ctx context.Context) error {
			_, err := k.clientset.BatchV1().CronJobs(k.namespace).Create(ctx, job, metav1.CreateOptions{})
			if apierrors.IsAlreadyExists(err) {
				return nil // idempotent create
			}
			if err != nil {
				return classifyK8sErr(err)
			}
			return nil
		})
	})
}

// DeleteCronJob removes the CronJob the engine created for a closed sprint
// (spec.md §4.C13 "Delete CronJob").
func (k *KubernetesClient) DeleteCronJob(ctx context.Context, name string) error {
	return k.breaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.Retry(ctx, k.retry, func(ctx context.Context) error {
			err := k.clientset.BatchV1().CronJobs(k.namespace).Delete(ctx, name, metav1.DeleteOptions{})
			if apierrors.IsNotFound(err) {
				return nil // idempotent delete
			}
			if err != nil {
				return classifyK8sErr(err)
			}
			return nil
		})
	})
}

// dailyScrumPodTemplate renders the job pod spec for the run-dailyscrum
// CronJob (spec.md §6: name is deterministic as "run-dailyscrum-{project}-
// {sprint}", lowercased by the caller before building the manifest).
func dailyScrumPodTemplate(m CronJobManifest) corev1.PodTemplateSpec {
	return corev1.PodTemplateSpec{
		ObjectMeta: metav1.ObjectMeta{
			Labels: map[string]string{
				"job-name": m.Name,
			},
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyOnFailure,
			Containers: []corev1.Container{
				{
					Name:  "dailyscrum-runner",
					Image: "agilecore/dailyscrum-runner:latest",
					Env: []corev1.EnvVar{
						{Name: "PROJECT_ID", Value: m.Project},
						{Name: "SPRINT_ID", Value: m.Sprint},
					},
				},
			},
		},
	}
}

func classifyK8sErr(err error) error {
	if err == nil {
		return nil
	}
	if apierrors.IsConflict(err) {
		return fmt.Errorf("%w: %v", coreerrors.ErrConflict, err)
	}
	if apierrors.IsServerTimeout(err) || apierrors.IsTimeout(err) {
		return fmt.Errorf("%w: %v", coreerrors.ErrTimeout, err)
	}
	var statusErr *apierrors.StatusError
	if errors.As(err, &statusErr) && statusErr.Status().Code >= 500 {
		return fmt.Errorf("%w: %v", coreerrors.ErrConnectionFailed, err)
	}
	return err
}
