package k8s

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	corev1 "k8s.io/api/core/v1"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	"k8s.io/apimachinery/pkg/api/meta"
	v1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/runtime/serializer"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/dynamic/fake"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/testing"
	"k8s.io/client-go/tools/clientcmd"
	"sigs.k8s.io/yaml"
)

// DynamicClient is the thin cluster access layer the verification suite
// runs on.
type DynamicClient interface {
	Get(gvk schema.GroupVersionKind, name, ns string) (*unstructured.Unstructured, error)
	List(gvk schema.GroupVersionKind, ns string) (*unstructured.UnstructuredList, error)
	Apply(obj *unstructured.Unstructured) error
	Delete(gvk schema.GroupVersionKind, name, ns string) error
}

type dynamicClientImpl struct {
	scheme *runtime.Scheme
	client dynamic.Interface

	// applyBackoffMax bounds Apply retries, zero means one minute.
	applyBackoffMax time.Duration
}

// ReactorConfig hooks fake client behavior into tests.
type ReactorConfig struct {
	verb      string
	resource  string
	reactfunc func(action testing.Action) (bool, runtime.Object, error)
}

// NewConfig builds a rest config from a kubeconfig file.
func NewConfig(kubeconfigPath string) (*rest.Config, error) {
	config, err := clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	if err != nil {
		return nil, fmt.Errorf("Error building kubeconfig: %v", err)
	}
	return config, nil
}

func NewDynamicClient(config *rest.Config) (*dynamicClientImpl, error) {
	dynamicClient, err := dynamic.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("Error creating dynamic client: %v", err)
	}
	return &dynamicClientImpl{
		client: dynamicClient,
		scheme: initScheme(),
	}, nil
}

func NewTestClient(objects []runtime.Object, reactors ...ReactorConfig) *dynamicClientImpl {
	s := initScheme()
	dynamicClient := fake.NewSimpleDynamicClient(s, objects...)
	for _, r := range reactors {
		dynamicClient.PrependReactor(r.verb, r.resource, r.reactfunc)
	}

	return &dynamicClientImpl{
		client:          dynamicClient,
		scheme:          s,
		applyBackoffMax: 50 * time.Millisecond,
	}
}

func NewReactorConfig(v string, r string, reactfunc func(action testing.Action) (bool, runtime.Object, error)) ReactorConfig {
	return ReactorConfig{
		verb:      v,
		resource:  r,
		reactfunc: reactfunc,
	}
}

func (c *dynamicClientImpl) Get(gvk schema.GroupVersionKind, name, ns string) (*unstructured.Unstructured, error) {
	resourceClient, err := c.resourceClientFor(gvk, ns)
	if err != nil {
		return nil, err
	}
	return resourceClient.Get(context.TODO(), name, v1.GetOptions{})
}

func (c *dynamicClientImpl) List(gvk schema.GroupVersionKind, ns string) (*unstructured.UnstructuredList, error) {
	resourceClient, err := c.resourceClientFor(gvk, ns)
	if err != nil {
		return nil, err
	}
	return resourceClient.List(context.TODO(), v1.ListOptions{})
}

func (c *dynamicClientImpl) Apply(obj *unstructured.Unstructured) error {
	gvk := obj.GroupVersionKind()
	resourceClient, err := c.resourceClientFor(gvk, obj.GetNamespace())
	if err != nil {
		return err
	}

	if err := c.createWithExponentialBackoff(resourceClient, obj); err != nil {
		return err
	}
	logrus.Infof("Object %v applied successfully", obj.GetName())
	return nil
}

func (c *dynamicClientImpl) Delete(gvk schema.GroupVersionKind, name, ns string) error {
	resourceClient, err := c.resourceClientFor(gvk, ns)
	if err != nil {
		return err
	}
	return resourceClient.Delete(context.TODO(), name, v1.DeleteOptions{})
}

// SerializeIntoObject turns a YAML manifest into an unstructured object.
func SerializeIntoObject(s *runtime.Scheme, manifest []byte) (*unstructured.Unstructured, error) {
	jsonData, err := yaml.YAMLToJSON(manifest)
	if err != nil {
		return nil, fmt.Errorf("Error converting YAML to JSON: %v", err)
	}

	obj := &unstructured.Unstructured{}
	dec := serializer.NewCodecFactory(s).UniversalDeserializer()
	_, _, err = dec.Decode(jsonData, nil, obj)
	if err != nil {
		return nil, fmt.Errorf("Error decoding JSON to Unstructured object: %v", err)
	}
	return obj, nil
}

func (c *dynamicClientImpl) createWithExponentialBackoff(resourceClient dynamic.ResourceInterface, obj *unstructured.Unstructured) error {
	operation := func() error {
		_, err := resourceClient.Create(context.TODO(), obj, v1.CreateOptions{})
		return err
	}

	backoffStrategy := backoff.NewExponentialBackOff()
	backoffStrategy.InitialInterval = 3 * time.Second
	backoffStrategy.MaxElapsedTime = 1 * time.Minute
	if c.applyBackoffMax > 0 {
		backoffStrategy.InitialInterval = c.applyBackoffMax / 4
		backoffStrategy.MaxElapsedTime = c.applyBackoffMax
	}

	return backoff.Retry(operation, backoffStrategy)
}

func initScheme() *runtime.Scheme {
	s := runtime.NewScheme()
	_ = scheme.AddToScheme(s)
	_ = apiextensionsv1.AddToScheme(s)
	_ = corev1.AddToScheme(s)
	return s
}

func (c *dynamicClientImpl) resourceClientFor(gvk schema.GroupVersionKind, ns string) (dynamic.ResourceInterface, error) {
	restMapper := meta.NewDefaultRESTMapper([]schema.GroupVersion{gvk.GroupVersion()})
	restMapper.Add(gvk, meta.RESTScopeNamespace)
	mapping, err := restMapper.RESTMapping(gvk.GroupKind(), gvk.Version)
	if err != nil {
		return nil, err
	}
	resourceClient := c.client.Resource(mapping.Resource).Namespace(ns)
	if ns == "" {
		resourceClient = c.client.Resource(mapping.Resource)
	}
	return resourceClient, nil
}
