package config

import (
	"fmt"
	"io"
	"reflect"
	"strings"

	"gopkg.in/yaml.v3"
)

// GenerateConfig renders opt as a yaml config file skeleton.
// Struct tags: `yaml` names the key (falls back to `json`, then the lowercased field name),
// `head_comment` and `description` become comments.
func GenerateConfig(w io.Writer, opt interface{}) error {
	root := getYamlNode(opt)
	o, err := yaml.Marshal(root)
	if err != nil {
		return err
	}
	_, err = w.Write(o)
	return err
}

func getYamlNode(v interface{}) *yaml.Node {
	node := &yaml.Node{}
	vv := reflect.ValueOf(v)
	switch vv.Kind() {
	case reflect.Ptr:
		if vv.IsNil() {
			return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
		}
		node = getYamlNode(vv.Elem().Interface())
	case reflect.Map:
		node.Kind = yaml.MappingNode
		nodes := []*yaml.Node{}
		keys := vv.MapKeys()
		for _, k := range keys {
			nodes = append(nodes, &yaml.Node{
				Kind:  yaml.ScalarNode,
				Value: k.String(),
			})
			nodes = append(nodes, getYamlNode(vv.MapIndex(k).Interface()))
		}
		node.Content = nodes
	case reflect.Array, reflect.Slice:
		nodes := []*yaml.Node{}
		for idx := 0; idx < vv.Len(); idx++ {
			nodes = append(nodes, getYamlNode(vv.Index(idx).Interface()))
		}
		node.Kind = yaml.SequenceNode
		node.Content = nodes
	case reflect.Struct:
		node.Kind = yaml.MappingNode
		nodes := []*yaml.Node{}
		t := reflect.TypeOf(v)
		for idx := 0; idx < t.NumField(); idx++ {
			field := t.FieldByIndex([]int{idx})
			fieldname := tagName(field.Tag.Get("yaml"))
			if len(fieldname) == 0 {
				fieldname = tagName(field.Tag.Get("json"))
			}
			if fieldname == "-" {
				continue
			}
			if len(fieldname) == 0 {
				fieldname = strings.ToLower(field.Name)
			}
			if !vv.FieldByIndex([]int{idx}).CanInterface() {
				continue
			}
			nodes = append(nodes, &yaml.Node{
				Kind:        yaml.ScalarNode,
				Value:       fieldname,
				HeadComment: field.Tag.Get("head_comment"),
				LineComment: field.Tag.Get("description"),
			})
			nodes = append(nodes, getYamlNode(vv.FieldByIndex([]int{idx}).Interface()))
		}
		node.Content = nodes
	default:
		node.Kind = yaml.ScalarNode
		node.Value = fmt.Sprintf("%v", vv.Interface())
	}
	return node
}

func tagName(tag string) string {
	name, _, _ := strings.Cut(tag, ",")
	return name
}
